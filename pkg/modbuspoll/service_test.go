package modbuspoll

import (
	"errors"
	"testing"
	"time"

	"github.com/NotCoffee418/sensor_gateway/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRegister(t *testing.T) {
	tests := []struct {
		name string
		reg  config.RegisterConfig
		raw  []byte
		want float64
	}{
		{"unsigned 16", config.RegisterConfig{Quantity: 1}, []byte{0x01, 0x02}, 258},
		{"signed 16 negative", config.RegisterConfig{Quantity: 1, Signed: true}, []byte{0xFF, 0xFE}, -2},
		{"unsigned 16 high bit", config.RegisterConfig{Quantity: 1}, []byte{0xFF, 0xFE}, 65534},
		{"signed 32", config.RegisterConfig{Quantity: 2, Signed: true}, []byte{0xFF, 0xFF, 0xFF, 0x9C}, -100},
		{"unsigned 32", config.RegisterConfig{Quantity: 2}, []byte{0x00, 0x01, 0x00, 0x00}, 65536},
		{"scaled", config.RegisterConfig{Quantity: 1, Scale: 0.1}, []byte{0x09, 0x0F}, 231.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeRegister(tt.reg, tt.raw)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, err := DecodeRegister(config.RegisterConfig{Quantity: 2}, []byte{0x01})
	assert.Error(t, err)
	_, err = DecodeRegister(config.RegisterConfig{Quantity: 3}, []byte{0, 0, 0, 0, 0, 0})
	assert.Error(t, err)
}

func testStation() config.ModbusStationConfig {
	return config.ModbusStationConfig{
		Name:       "inverter",
		Ip:         "192.168.200.1",
		ModbusPort: 502,
		Registers: []config.RegisterConfig{
			{Name: "active_power", Address: 32080, Quantity: 2, Signed: true},
			{Name: "grid_voltage", Address: 32069, Quantity: 1, Scale: 0.1},
		},
	}
}

type fakeDevice struct {
	now      time.Time
	pingOK   bool
	reads    int
	failures int
}

func newTestPoller(dev *fakeDevice) *Poller {
	p := NewPoller(testStation())
	p.now = func() time.Time { return dev.now }
	p.sleep = func(time.Duration) {}
	p.ping = func(string) (bool, time.Duration, error) {
		if !dev.pingOK {
			return false, 0, errors.New("no response")
		}
		return true, time.Millisecond, nil
	}
	p.reconnect = func() error { return nil }
	p.readRegisters = func() ([][]byte, error) {
		dev.reads++
		if dev.failures > 0 {
			dev.failures--
			return nil, errors.New("i/o timeout")
		}
		return [][]byte{{0x00, 0x00, 0x0B, 0xB8}, {0x09, 0x0F}}, nil
	}
	return p
}

func TestPollerRead(t *testing.T) {
	dev := &fakeDevice{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), pingOK: true}
	p := newTestPoller(dev)

	msg, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, "inverter", msg.Station())
	power, ok := msg.Get("active_power")
	require.True(t, ok)
	assert.Equal(t, "3000", power.Value())
	voltage, _ := msg.Get("grid_voltage")
	assert.Equal(t, "231.9", voltage.Value())
	got, _ := msg.Time()
	assert.Equal(t, dev.now, got)
}

func TestPollerCachesReads(t *testing.T) {
	dev := &fakeDevice{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), pingOK: true}
	p := newTestPoller(dev)

	_, err := p.Read()
	require.NoError(t, err)
	dev.now = dev.now.Add(5 * time.Second)
	_, err = p.Read()
	require.NoError(t, err)
	assert.Equal(t, 1, dev.reads)

	dev.now = dev.now.Add(10 * time.Second)
	_, err = p.Read()
	require.NoError(t, err)
	assert.Equal(t, 2, dev.reads)
}

func TestPollerRetries(t *testing.T) {
	dev := &fakeDevice{now: time.Now(), pingOK: true, failures: 2}
	p := newTestPoller(dev)

	_, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, 3, dev.reads)

	dev = &fakeDevice{now: time.Now(), pingOK: true, failures: 3}
	p = newTestPoller(dev)
	_, err = p.Read()
	assert.ErrorIs(t, err, ErrModbusReadFailed)
}

func TestPollerPingFailure(t *testing.T) {
	dev := &fakeDevice{now: time.Now(), pingOK: false}
	p := newTestPoller(dev)

	_, err := p.Read()
	assert.ErrorIs(t, err, ErrModbusReadFailed)
	assert.ErrorIs(t, err, ErrModbusNotConnected)
	assert.Zero(t, dev.reads)
}

func TestPollerNotConfigured(t *testing.T) {
	p := NewPoller(config.ModbusStationConfig{Name: "empty"})
	assert.False(t, p.IsModbusConfigured())
	_, err := p.Read()
	assert.ErrorIs(t, err, ErrModbusNotConfigured)
}
