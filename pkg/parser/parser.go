// Package parser is the shared pipeline behind the keyed text protocols.
//
// A message such as "(S:STATION;D:050914;T:170000;PR:0.6;TA:1.1)" is
// normalised and split on the separator. Station, date and time are taken
// from the leading fields by protocol hooks, then every following field is
// handed to the value hook. The result is an ordered list of records, which
// ParseMessageIntoMeasMsg turns into a meas.MeasMsg.
package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/NotCoffee418/sensor_gateway/pkg/events"
	"github.com/NotCoffee418/sensor_gateway/pkg/ingesterr"
	"github.com/NotCoffee418/sensor_gateway/pkg/meas"
	"github.com/charmbracelet/log"
)

// Hooks are the protocol specific steps of the pipeline. fields is the
// message split on the separator.
type Hooks interface {
	ParseStationName(fields []string) (string, error)
	ParseDate(fields []string) (Date, error)
	ParseTime(fields []string) (Clock, error)
	ParseValue(field string) (name string, value string, err error)
}

type Date struct {
	Year  int
	Month time.Month
	Day   int
}

type Clock struct {
	Hour   int
	Minute int
	Second int
}

func (d Date) String() string {
	return fmt.Sprintf("%04d%02d%02d", d.Year, int(d.Month), d.Day)
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d%02d%02d", c.Hour, c.Minute, c.Second)
}

type Config struct {
	// Field separator, ';' by default
	Separator string
	// Index of the first variable field. Station, date and time occupy the
	// fields before it; 0 means the message carries none of them.
	IndexOfFirstValue int
	// Round the message time to the nearest whole minute
	RoundSecondsToMinute bool
	// Location of the date and time in the message, UTC when nil
	Location *time.Location
	// Clock used when the message carries no date or time
	Now func() time.Time

	Logger *log.Logger
}

func DefaultConfig() Config {
	return Config{
		Separator:         ";",
		IndexOfFirstValue: 3,
		Location:          time.UTC,
		Now:               time.Now,
	}
}

func (c Config) withDefaults() Config {
	if c.Separator == "" {
		c.Separator = ";"
	}
	if c.IndexOfFirstValue < 0 {
		c.IndexOfFirstValue = 0
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

// Record is one extracted variable, in message order.
type Record struct {
	Station string
	Name    string
	Date    Date
	Clock   Clock
	Value   string
	ObsTime time.Time
}

// String renders the record as a tab-delimited MEAS line.
func (r Record) String() string {
	return fmt.Sprintf("MEAS\t%s\t\t\t%s\tNONE\t\t%s %s\t%s\t0\t0\r\n",
		r.Station, r.Name, r.Date, r.Clock, r.Value)
}

type Parser struct {
	hooks  Hooks
	cfg    Config
	sink   events.Sink
	port   events.Port
	logger *log.Logger
	op     string
}

var multiSpace = regexp.MustCompile(` {2,}`)

// New builds a pipeline around hooks. name prefixes diagnostics, e.g. "smsaws".
func New(name string, hooks Hooks, cfg Config, sink events.Sink, port events.Port) *Parser {
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = events.Nop{}
	}
	return &Parser{
		hooks:  hooks,
		cfg:    cfg,
		sink:   sink,
		port:   port,
		logger: cfg.Logger.With("component", name, "port", events.PortName(port)),
		op:     name,
	}
}

func (p *Parser) Config() Config {
	return p.cfg
}

// Fields normalises data and splits it on the separator: anything before the
// first '(' and all parentheses are dropped, empty values become the
// missing-data marker and runs of spaces collapse to one.
func (p *Parser) Fields(data string) []string {
	if idx := strings.IndexByte(data, '('); idx >= 0 {
		data = data[idx:]
	}
	data = strings.NewReplacer("(", "", ")", "").Replace(data)
	sep := p.cfg.Separator
	data = strings.ReplaceAll(data, ":"+sep, ":/"+sep)
	data = strings.ReplaceAll(data, ":,"+sep, ":/"+sep)
	data = multiSpace.ReplaceAllString(data, " ")
	return strings.Split(data, sep)
}

// ParseMessage extracts one record per variable field. A bad station, date
// or time rejects the whole message. A bad variable field stops the parse:
// records before it are returned together with the error.
func (p *Parser) ParseMessage(data string) (records []Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			records, err = nil, p.Report(ingesterr.Recovered(p.op+".ParseMessage", r, data))
		}
	}()

	if data == "" {
		return nil, p.Report(ingesterr.Invalid(p.op+".ParseMessage", ingesterr.ErrEmptyInput, "empty message", data))
	}

	fields := p.Fields(data)

	station, err := p.hooks.ParseStationName(fields)
	if err != nil {
		return nil, p.Report(err)
	}
	date, err := p.hooks.ParseDate(fields)
	if err != nil {
		return nil, p.Report(err)
	}
	clock, err := p.hooks.ParseTime(fields)
	if err != nil {
		return nil, p.Report(err)
	}
	obsTime := time.Date(date.Year, date.Month, date.Day, clock.Hour, clock.Minute, clock.Second, 0, p.cfg.Location)

	for i := p.cfg.IndexOfFirstValue; i < len(fields); i++ {
		field := fields[i]
		if field == "" && i == len(fields)-1 {
			// trailing separator
			continue
		}
		name, value, err := p.hooks.ParseValue(field)
		if err != nil {
			return records, p.Report(err)
		}
		records = append(records, Record{
			Station: station,
			Name:    name,
			Date:    date,
			Clock:   clock,
			Value:   value,
			ObsTime: obsTime,
		})
	}
	return records, nil
}

// ParseMessageIntoMeasMsg runs ParseMessage and builds the message in field
// order. It returns nil when not a single measurement could be extracted.
// A message cut short by a bad field is returned without error; the field
// error has already gone to the sink.
func (p *Parser) ParseMessageIntoMeasMsg(data string) (msg *meas.MeasMsg, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg, err = nil, p.Report(ingesterr.Recovered(p.op+".ParseMessageIntoMeasMsg", r, data))
		}
	}()

	records, err := p.ParseMessage(data)
	if len(records) == 0 {
		if err == nil {
			err = p.Report(ingesterr.Invalid(p.op+".ParseMessageIntoMeasMsg", ingesterr.ErrNoMeas, "message holds no variables", data))
		}
		return nil, err
	}

	msg = meas.NewMeasMsg()
	msg.SetStation(records[0].Station)
	for _, r := range records {
		msg.Add(meas.NewMeas(r.Name, r.ObsTime, r.Value, meas.StatusOK, r.Station))
	}
	if p.cfg.RoundSecondsToMinute {
		msg.RoundSecondsToMinute()
	}
	return msg, nil
}

// Report stamps the port on err, logs it and forwards it to the sink.
func (p *Parser) Report(err error) error {
	err = ingesterr.WithPort(err, events.PortName(p.port))
	p.logger.Warn("parse failed", "err", err)
	p.sink.ParseError(p.port, err)
	return err
}
