// Package modbuspoll reads configured holding registers from Modbus TCP
// stations and reports them as measurement messages.
package modbuspoll

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/NotCoffee418/sensor_gateway/pkg/config"
	"github.com/NotCoffee418/sensor_gateway/pkg/meas"
	"github.com/NotCoffee418/sensor_gateway/pkg/measutil"
	"github.com/charmbracelet/log"
	"github.com/goburrow/modbus"
	probing "github.com/prometheus-community/pro-bing"
)

var (
	ErrModbusNotConfigured = fmt.Errorf("modbus not configured")
	ErrModbusReadFailed    = fmt.Errorf("modbus read failed")
	ErrModbusNotConnected  = fmt.Errorf("modbus not connected")
)

const (
	maxRetries = 3
	cacheTTL   = 10 * time.Second
	retryDelay = 2 * time.Second
	// The delay after connecting causes everything to not implode as much
	settleDelay = 2 * time.Second
)

// Poller reads one station. Reads are cached to avoid spamming the device.
type Poller struct {
	station config.ModbusStationConfig
	logger  *log.Logger

	mu       sync.Mutex
	lastMsg  *meas.MeasMsg
	lastRead time.Time

	now           func() time.Time
	sleep         func(time.Duration)
	ping          func(host string) (bool, time.Duration, error)
	readRegisters func() ([][]byte, error)
	reconnect     func() error
}

func NewPoller(station config.ModbusStationConfig) *Poller {
	p := &Poller{
		station: station,
		logger:  log.Default().With("modbus", station.Name),
		now:     time.Now,
		sleep:   time.Sleep,
		ping:    ping,
	}
	p.readRegisters = p.readFromDevice
	p.reconnect = p.tryReconnect
	return p
}

// IsModbusConfigured checks if the station can be polled.
// Stations are optional, empty values as config are acceptable.
func (p *Poller) IsModbusConfigured() bool {
	return p.station.Ip != "" &&
		p.station.ModbusPort != 0 &&
		len(p.station.Registers) > 0
}

func (p *Poller) Name() string {
	return p.station.Name
}

// Read returns the registers as one message stamped with the read time.
func (p *Poller) Read() (*meas.MeasMsg, error) {
	if !p.IsModbusConfigured() {
		return nil, ErrModbusNotConfigured
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastMsg != nil && p.lastRead.After(p.now().Add(-cacheTTL)) {
		return p.lastMsg, nil
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			p.sleep(retryDelay)
			// Try reconnecting on retry attempts
			if err := p.reconnect(); err != nil {
				lastErr = fmt.Errorf("reconnect failed on attempt %d: %w", attempt+1, err)
				continue
			}
		}

		// Ping check before attempting modbus connection
		if ok, _, err := p.ping(p.station.Ip); !ok || err != nil {
			lastErr = fmt.Errorf("ping failed on attempt %d: %w", attempt+1, errors.Join(ErrModbusNotConnected, err))
			continue
		}

		raw, err := p.readRegisters()
		if err != nil {
			lastErr = fmt.Errorf("read failed on attempt %d: %w", attempt+1, err)
			continue
		}

		msg, err := p.buildMsg(raw, p.now())
		if err != nil {
			return nil, errors.Join(ErrModbusReadFailed, err)
		}
		p.lastMsg = msg
		p.lastRead = p.now()
		return msg, nil
	}

	p.logger.Warn("modbus read failed", "err", lastErr)
	return nil, errors.Join(ErrModbusReadFailed, lastErr)
}

func (p *Poller) buildMsg(raw [][]byte, at time.Time) (*meas.MeasMsg, error) {
	if len(raw) != len(p.station.Registers) {
		return nil, fmt.Errorf("got %d register reads for %d registers", len(raw), len(p.station.Registers))
	}
	at = at.UTC().Truncate(time.Second)
	msg := meas.NewMeasMsg()
	msg.SetStation(p.station.Name)
	for i, reg := range p.station.Registers {
		value, err := DecodeRegister(reg, raw[i])
		if err != nil {
			return nil, err
		}
		msg.Add(meas.NewMeas(reg.Name, at, strconv.FormatFloat(value, 'f', -1, 64), meas.StatusOK, p.station.Name))
	}
	return msg, nil
}

// DecodeRegister turns the bytes of a holding register read into a scaled
// value. Registers are big endian; two registers form one 32 bit value.
func DecodeRegister(reg config.RegisterConfig, raw []byte) (float64, error) {
	var value int64
	switch reg.Quantity {
	case 1:
		if len(raw) < 2 {
			return 0, fmt.Errorf("register %s: need 2 bytes, got %d", reg.Name, len(raw))
		}
		u := binary.BigEndian.Uint16(raw)
		if reg.Signed {
			value = int64(int16(u))
		} else {
			value = int64(u)
		}
	case 2:
		if len(raw) < 4 {
			return 0, fmt.Errorf("register %s: need 4 bytes, got %d", reg.Name, len(raw))
		}
		u := binary.BigEndian.Uint32(raw)
		if reg.Signed {
			value = int64(int32(u))
		} else {
			value = int64(u)
		}
	default:
		return 0, fmt.Errorf("register %s: unsupported quantity %d", reg.Name, reg.Quantity)
	}
	return measutil.ScaleRaw(value, reg.Scale), nil
}

func (p *Poller) readFromDevice() ([][]byte, error) {
	handler := modbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", p.station.Ip, p.station.ModbusPort))
	handler.Timeout = 10 * time.Second
	handler.SlaveId = p.station.SlaveId

	if err := handler.Connect(); err != nil {
		handler.Close()
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer handler.Close()

	p.sleep(settleDelay)
	client := modbus.NewClient(handler)

	out := make([][]byte, 0, len(p.station.Registers))
	for _, reg := range p.station.Registers {
		result, err := client.ReadHoldingRegisters(reg.Address, reg.Quantity)
		if err != nil {
			return nil, fmt.Errorf("read %s failed: %w", reg.Name, err)
		}
		out = append(out, result)
	}
	return out, nil
}

func (p *Poller) tryReconnect() error {
	if p.station.WlanConnectionId == "" {
		return nil
	}

	// Check if already connected
	if ok, _, _ := p.ping(p.station.Ip); ok {
		return nil
	}

	// Try reconnecting to wifi
	cmd := exec.Command("nmcli", "connection", "up", p.station.WlanConnectionId)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to bring up wifi connection: %w", err)
	}

	// Wait a bit for the connection to establish
	p.sleep(5 * time.Second)

	ok, _, err := p.ping(p.station.Ip)
	if err != nil {
		return err
	}
	if !ok {
		return ErrModbusNotConnected
	}
	return nil
}

func ping(host string) (bool, time.Duration, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return false, 0, err
	}

	pinger.Count = 1
	pinger.Timeout = 2 * time.Second
	pinger.SetPrivileged(false) // UDP-based, no root needed

	if err := pinger.Run(); err != nil {
		return false, 0, err
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv > 0 {
		return true, stats.AvgRtt, nil
	}
	return false, 0, fmt.Errorf("no response")
}
