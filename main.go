// Decodes captured sensor output from a file or stdin and prints one JSON
// message per line. With --encode it turns JSON lines back into SMSAWS text.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/NotCoffee418/sensor_gateway/pkg/config"
	"github.com/NotCoffee418/sensor_gateway/pkg/events"
	"github.com/NotCoffee418/sensor_gateway/pkg/meas"
	"github.com/NotCoffee418/sensor_gateway/pkg/port_reader"
	"github.com/NotCoffee418/sensor_gateway/pkg/smsaws"
	"github.com/charmbracelet/log"
	flag "github.com/spf13/pflag"
)

const chunkSize = 1024

func main() {
	cfg := config.PortConfig{Name: "stdin", Protocol: "smsaws", Transport: "serial", Station: smsaws.DefaultStation}
	encode := flag.Bool("encode", false, "read JSON messages and write SMSAWS text")
	flag.StringVar(&cfg.Protocol, "protocol", cfg.Protocol, "smsaws or p1")
	flag.StringVar(&cfg.EndChar, "end-char", "", "message terminator (default \")\")")
	flag.BoolVar(&cfg.UseCRC32, "crc32", false, "messages carry a CRC32 suffix after the terminator")
	flag.BoolVar(&cfg.VerifyCRC32, "verify-crc32", false, "drop messages whose CRC32 does not match")
	flag.IntVar(&cfg.IndexOfFirstValue, "index-of-first-value", 3, "0 for messages without station, date and time")
	flag.BoolVar(&cfg.RoundSecondsToMinute, "round", false, "round message times to the minute")
	flag.BoolVar(&cfg.Multi, "multi", false, "input holds several messages per frame")
	verbose := flag.BoolP("verbose", "v", false, "log parse errors and framing details")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.ErrorLevel)
	}

	in := io.Reader(os.Stdin)
	if flag.NArg() > 0 {
		f, err := os.Open(flag.Arg(0))
		if err != nil {
			log.Fatal("Failed to open input", "err", err)
		}
		defer f.Close()
		in = f
	}

	var err error
	if *encode {
		err = encodeStream(in, os.Stdout)
	} else {
		var count int
		count, err = decodeStream(in, os.Stdout, cfg)
		log.Infof("Decoded %d message(s)", count)
	}
	if err != nil {
		log.Fatal(err)
	}
}

// decodeStream runs the input through the same framing and parsing a live
// port uses and writes every message as a JSON line.
func decodeStream(in io.Reader, out io.Writer, cfg config.PortConfig) (int, error) {
	count := 0
	var writeErr error
	sink := events.SinkFuncs{
		OnMeasMsg: func(_ events.Port, msg *meas.MeasMsg) {
			if writeErr != nil {
				return
			}
			data, err := msg.ToJsonBytes()
			if err != nil {
				log.Error("Failed to encode message", "station", msg.Station(), "err", err)
				return
			}
			if _, err := fmt.Fprintln(out, string(data)); err != nil {
				writeErr = err
				return
			}
			count++
		},
	}
	reader := port_reader.NewReader(cfg, sink)

	buf := make([]byte, chunkSize)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			reader.Feed(buf[:n])
		}
		if writeErr != nil {
			return count, writeErr
		}
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, err
		}
	}
}

// encodeStream reads one JSON message per line.
func encodeStream(in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		msg := meas.MeasMsgFromJsonBytes(scanner.Bytes())
		if msg == nil {
			return fmt.Errorf("line %d: not a message", line)
		}
		if coded := smsaws.Code(msg); coded != "" {
			if _, err := fmt.Fprintln(out, coded); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}
