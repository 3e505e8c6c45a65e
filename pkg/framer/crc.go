package framer

import (
	"fmt"
	"hash/crc32"
	"strconv"

	"github.com/NotCoffee418/sensor_gateway/pkg/ingesterr"
)

// SplitCRC32 separates a trailing 8 hex digit CRC from message.
func SplitCRC32(message string) (payload string, crc uint32, ok bool) {
	if len(message) < crcLength {
		return message, 0, false
	}
	suffix := message[len(message)-crcLength:]
	if !isHex([]byte(suffix)) {
		return message, 0, false
	}
	v, err := strconv.ParseUint(suffix, 16, 32)
	if err != nil {
		return message, 0, false
	}
	return message[:len(message)-crcLength], uint32(v), true
}

// VerifyCRC32 checks the IEEE CRC32 suffix against the rest of the message
// and returns the message without it.
func VerifyCRC32(message string) (string, error) {
	payload, want, ok := SplitCRC32(message)
	if !ok {
		return message, ingesterr.Invalid("framer.VerifyCRC32", ingesterr.ErrChecksum, "missing CRC32 suffix", message)
	}
	if got := crc32.ChecksumIEEE([]byte(payload)); got != want {
		reason := fmt.Sprintf("CRC32 mismatch: got %08X, message says %08X", got, want)
		return payload, ingesterr.Invalid("framer.VerifyCRC32", ingesterr.ErrChecksum, reason, message)
	}
	return payload, nil
}

// AppendCRC32 is the inverse of VerifyCRC32, used by senders and tests.
func AppendCRC32(payload string) string {
	return fmt.Sprintf("%s%08X", payload, crc32.ChecksumIEEE([]byte(payload)))
}
