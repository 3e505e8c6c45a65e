package port_reader

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/NotCoffee418/sensor_gateway/pkg/config"
	"github.com/NotCoffee418/sensor_gateway/pkg/events"
	"github.com/NotCoffee418/sensor_gateway/pkg/framer"
	"github.com/NotCoffee418/sensor_gateway/pkg/meas"
	"github.com/NotCoffee418/sensor_gateway/pkg/p1"
	"github.com/NotCoffee418/sensor_gateway/pkg/smsaws"
	"github.com/charmbracelet/log"
)

// Reader reads one configured port and turns its byte stream into
// measurement messages. It implements events.Port.
type Reader struct {
	cfg    config.PortConfig
	sink   events.Sink
	logger *log.Logger

	dial   func() (io.ReadWriteCloser, error)
	conn   io.ReadWriteCloser
	connMu sync.Mutex

	// Owned by the reading goroutine
	framer    *framer.Framer
	smsaws    *smsaws.Parser
	p1        *p1.Parser
	assembler p1.Assembler
	remainder string

	handleMeasMsg func(msg *meas.MeasMsg)

	latestMeasMsg *meas.MeasMsg
	latestMu      sync.RWMutex
	stopSignal    atomic.Bool
}
