package port_reader

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/NotCoffee418/sensor_gateway/pkg/config"
	"github.com/NotCoffee418/sensor_gateway/pkg/events"
	"github.com/NotCoffee418/sensor_gateway/pkg/framer"
	"github.com/NotCoffee418/sensor_gateway/pkg/ingesterr"
	"github.com/NotCoffee418/sensor_gateway/pkg/meas"
	"github.com/NotCoffee418/sensor_gateway/pkg/p1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu   sync.Mutex
	msgs []*meas.MeasMsg
	errs []error
	raw  []string
}

func (c *collector) sink() events.Sink {
	return events.SinkFuncs{
		OnRawText: func(_ events.Port, text string) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.raw = append(c.raw, text)
		},
		OnParseError: func(_ events.Port, err error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.errs = append(c.errs, err)
		},
		OnMeasMsg: func(_ events.Port, msg *meas.MeasMsg) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.msgs = append(c.msgs, msg)
		},
	}
}

func smsawsPort() config.PortConfig {
	return config.PortConfig{
		Name:              "aws",
		Protocol:          "smsaws",
		Transport:         "tcp",
		Address:           "10.0.0.5:4001",
		IndexOfFirstValue: 3,
	}
}

func TestReaderImplementsPort(t *testing.T) {
	r := NewReader(smsawsPort(), nil)
	assert.Equal(t, "tcp://10.0.0.5:4001", events.PortName(r))
	assert.Equal(t, "aws", r.LocalSocketName())

	cfg := smsawsPort()
	cfg.Transport = "serial"
	cfg.SerialDevice = "/dev/ttyS0"
	assert.Equal(t, "/dev/ttyS0", NewReader(cfg, nil).RemoteSocketName())
}

func TestFeedSmsAws(t *testing.T) {
	c := &collector{}
	r := NewReader(smsawsPort(), c.sink())

	r.Feed([]byte("(S:JABALALKAWR;D:050914;T:170000;PR:0.6;"))
	assert.Nil(t, r.GetLatestMeasMsg())
	r.Feed([]byte("TA:1.1)\r\n(S:B;D:050914;T:170000;PR:0.7)"))

	require.Len(t, c.msgs, 2)
	assert.Equal(t, "JABALALKAWR", c.msgs[0].Station())
	assert.Equal(t, 2, c.msgs[0].Count())
	assert.Equal(t, "B", r.GetLatestMeasMsg().Station())
	assert.Len(t, c.raw, 2)
	assert.Empty(t, c.errs)
}

func TestFeedSubMessages(t *testing.T) {
	c := &collector{}
	r := NewReader(smsawsPort(), c.sink())

	r.Feed([]byte("(S:A;D:050914;T:170000;PR:0.6\r\nS:B;D:050914;T:170000;PR:0.7\r\nS:C;D:050914;T:170000;PR:0.8)"))
	require.Len(t, c.msgs, 3)
	assert.Equal(t, "C", c.msgs[2].Station())
}

func TestFeedNestedParenIsDropped(t *testing.T) {
	c := &collector{}
	r := NewReader(smsawsPort(), c.sink())

	r.Feed([]byte("(S:A;D:050914;T:170000;PR:0.6\r\nS:B;D:05(0914;T:170000;PR:0.7)"))
	assert.Empty(t, c.msgs)
	require.Len(t, c.errs, 1)
	assert.ErrorIs(t, c.errs[0], ingesterr.ErrStructure)
}

func TestFeedVerifiesCRC32(t *testing.T) {
	cfg := smsawsPort()
	cfg.UseCRC32 = true
	cfg.VerifyCRC32 = true
	c := &collector{}
	r := NewReader(cfg, c.sink())

	good := framer.AppendCRC32("(S:A;D:050914;T:170000;PR:0.6)")
	bad := "(S:B;D:050914;T:170000;PR:0.7)00000000"
	r.Feed([]byte(good + bad))

	require.Len(t, c.msgs, 1)
	assert.Equal(t, "A", c.msgs[0].Station())
	require.Len(t, c.errs, 1)
	assert.ErrorIs(t, c.errs[0], ingesterr.ErrChecksum)
}

func TestFeedMultiKeepsRemainder(t *testing.T) {
	cfg := smsawsPort()
	cfg.Multi = true
	cfg.EndChar = "\n"
	c := &collector{}
	r := NewReader(cfg, c.sink())

	r.Feed([]byte("(S:A;D:050914;T:170000;PR:0.6)(S:B;D:050914;\n"))
	require.Len(t, c.msgs, 1)
	r.Feed([]byte("T:170000;PR:0.7)\n"))
	require.Len(t, c.msgs, 2)
	assert.Equal(t, "B", c.msgs[1].Station())
}

func TestReconnectDropsPartialData(t *testing.T) {
	cfg := smsawsPort()
	cfg.Multi = true
	c := &collector{}
	r := NewReader(cfg, c.sink())
	r.dial = func() (io.ReadWriteCloser, error) { return newFakeConn(), nil }

	r.Feed([]byte("(S:A;D:050914;T:170000;PR:0.6)(S:OLD;D:05)"))
	r.Feed([]byte("(S:OLD;D:050914;T:17"))
	require.Len(t, c.msgs, 1)
	require.Equal(t, "(S:OLD;D:05", r.remainder)
	require.NotEmpty(t, r.framer.Pending())

	r.reconnect()
	defer r.disconnect()
	assert.Empty(t, r.framer.Pending())
	assert.Empty(t, r.remainder)

	r.Feed([]byte("(S:B;D:050914;T:170000;PR:0.7)"))
	require.Len(t, c.msgs, 2)
	assert.Equal(t, "B", c.msgs[1].Station())
	assert.Empty(t, c.errs)
}

func TestReconnectResetsP1Assembler(t *testing.T) {
	cfg := config.PortConfig{Name: "meter", Protocol: "p1", Transport: "serial", SerialDevice: "/dev/ttyUSB0", Station: "home"}
	c := &collector{}
	r := NewReader(cfg, c.sink())
	r.dial = func() (io.ReadWriteCloser, error) { return newFakeConn(), nil }

	r.Feed([]byte("/XMX5\r\n0-0:1.0.0(250114153012W)\r\n"))
	r.reconnect()
	defer r.disconnect()

	// The closing line of the dropped telegram must not complete anything
	r.Feed([]byte("!0000\r\n"))
	assert.Empty(t, c.msgs)
	assert.Empty(t, c.errs)
}

func TestFeedP1(t *testing.T) {
	cfg := config.PortConfig{Name: "meter", Protocol: "p1", Transport: "serial", SerialDevice: "/dev/ttyUSB0", Station: "home"}
	c := &collector{}
	r := NewReader(cfg, c.sink())

	body := "/XMX5\r\n0-0:1.0.0(250114153012W)\r\n1-0:1.7.0(01.250*kW)\r\n!"
	telegram := body + p1.Checksum(body) + "\r\n"
	r.Feed([]byte(telegram[:10]))
	r.Feed([]byte(telegram[10:]))

	require.Len(t, c.msgs, 1)
	m, ok := c.msgs[0].Get("current_consumption")
	require.True(t, ok)
	assert.Equal(t, "01.250", m.Value())
	assert.Equal(t, "home", c.msgs[0].Station())
}

type fakeConn struct {
	chunks chan string
	done   chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{chunks: make(chan string, 8), done: make(chan struct{})}
}

func (f *fakeConn) Read(p []byte) (int, error) {
	select {
	case c := <-f.chunks:
		return copy(p, c), nil
	case <-f.done:
		return 0, io.EOF
	}
}

func (f *fakeConn) Write(p []byte) (int, error) {
	return len(p), nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func TestStartReading(t *testing.T) {
	conn := newFakeConn()
	r := NewReader(smsawsPort(), nil)
	r.dial = func() (io.ReadWriteCloser, error) { return conn, nil }

	got := make(chan *meas.MeasMsg, 4)
	r.StartReading(func(msg *meas.MeasMsg) { got <- msg }, func(err error) { t.Errorf("unexpected error: %v", err) })

	conn.chunks <- "(S:A;D:050914;T:170000;PR:0.6)"
	select {
	case msg := <-got:
		assert.Equal(t, "A", msg.Station())
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	r.StopReading()
	select {
	case <-conn.done:
	case <-time.After(time.Second):
		t.Fatal("connection not closed")
	}
	assert.Equal(t, "A", r.GetLatestMeasMsg().Station())
}

func TestStartReadingDialFailure(t *testing.T) {
	r := NewReader(smsawsPort(), nil)
	r.dial = func() (io.ReadWriteCloser, error) { return nil, errors.New("connection refused") }

	errs := make(chan error, 1)
	r.StartReading(func(*meas.MeasMsg) {}, func(err error) { errs <- err })

	select {
	case err := <-errs:
		assert.True(t, ingesterr.IsTransient(err))
		assert.Contains(t, err.Error(), "connection refused")
	case <-time.After(2 * time.Second):
		t.Fatal("dial error not reported")
	}
}
