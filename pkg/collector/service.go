// Package collector decides which messages coming off the gateway stream
// get stored.
package collector

import (
	"sync"
	"time"

	"github.com/NotCoffee418/sensor_gateway/pkg/meas"
	"github.com/charmbracelet/log"
)

// StoreFunc persists a message, measdb.InsertMeasMsg fits.
type StoreFunc func(msg *meas.MeasMsg, port string, receivedAt time.Time) (int64, error)

// Collector keeps the last message per station so repeated sends of the
// same observation are stored once.
type Collector struct {
	source string
	store  StoreFunc
	now    func() time.Time
	logger *log.Logger

	mu   sync.Mutex
	last map[string]*meas.MeasMsg
}

func New(source string, store StoreFunc) *Collector {
	return &Collector{
		source: source,
		store:  store,
		now:    time.Now,
		logger: log.Default().With("source", source),
		last:   make(map[string]*meas.MeasMsg),
	}
}

// Handle stores msg unless it duplicates the last message of its station.
// A stored message replaces the kept one; for the same observation time the
// kept message's real values fill in any that msg is missing.
func (c *Collector) Handle(msg *meas.MeasMsg) (bool, error) {
	if msg == nil || msg.Count() == 0 {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.last[msg.Station()]
	if prev != nil && prev.CheckForDuplicateFilter(msg) {
		c.logger.Debug("skipping duplicate", "station", msg.Station())
		return false, nil
	}

	if _, err := c.store(msg, c.source, c.now()); err != nil {
		c.logger.Error("failed to store message", "station", msg.Station(), "err", err)
		return false, err
	}

	next := msg
	if prev != nil && sameObservation(prev, msg) {
		next = fillMissing(msg, prev)
	}
	c.last[msg.Station()] = next
	return true, nil
}

// fillMissing returns a copy of msg with '/' values taken from prev where
// prev has a real one. Names only prev carries are not added.
func fillMissing(msg, prev *meas.MeasMsg) *meas.MeasMsg {
	out := meas.NewMeasMsg()
	out.SetStation(msg.Station())
	if t, ok := msg.Time(); ok {
		out.Retime(t)
	}
	for _, x := range msg.Measurements() {
		if y, ok := prev.Get(x.Name()); ok && x.IsMissing() && !y.IsMissing() {
			x = y
		}
		out.Add(x)
	}
	return out
}

func sameObservation(a, b *meas.MeasMsg) bool {
	at, aok := a.Time()
	bt, bok := b.Time()
	return aok == bok && at.Equal(bt)
}
