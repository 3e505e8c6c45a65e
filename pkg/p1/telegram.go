// Package p1 turns DSMR P1 smart meter telegrams into measurement messages.
package p1

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/NotCoffee418/sensor_gateway/pkg/events"
	"github.com/NotCoffee418/sensor_gateway/pkg/ingesterr"
	"github.com/NotCoffee418/sensor_gateway/pkg/meas"
	"github.com/charmbracelet/log"
	"github.com/sigurn/crc16"
)

type obisField struct {
	name    string
	pattern *regexp.Regexp
}

// Value fields, in the order they are added to the message.
var obisFields = []obisField{
	{"current_consumption", regexp.MustCompile(`1-0:1\.7\.0\((\d+\.\d+)\*kW\)`)},
	{"current_production", regexp.MustCompile(`1-0:2\.7\.0\((\d+\.\d+)\*kW\)`)},
	{"l1_consumption", regexp.MustCompile(`1-0:21\.7\.0\((\d+\.\d+)\*kW\)`)},
	{"l2_consumption", regexp.MustCompile(`1-0:41\.7\.0\((\d+\.\d+)\*kW\)`)},
	{"l3_consumption", regexp.MustCompile(`1-0:61\.7\.0\((\d+\.\d+)\*kW\)`)},
	{"l1_production", regexp.MustCompile(`1-0:22\.7\.0\((\d+\.\d+)\*kW\)`)},
	{"l2_production", regexp.MustCompile(`1-0:42\.7\.0\((\d+\.\d+)\*kW\)`)},
	{"l3_production", regexp.MustCompile(`1-0:62\.7\.0\((\d+\.\d+)\*kW\)`)},
	{"total_consumption_day", regexp.MustCompile(`1-0:1\.8\.1\((\d+\.\d+)\*kWh\)`)},
	{"total_consumption_night", regexp.MustCompile(`1-0:1\.8\.2\((\d+\.\d+)\*kWh\)`)},
	{"total_production_day", regexp.MustCompile(`1-0:2\.8\.1\((\d+\.\d+)\*kWh\)`)},
	{"total_production_night", regexp.MustCompile(`1-0:2\.8\.2\((\d+\.\d+)\*kWh\)`)},
	{"l1_voltage", regexp.MustCompile(`1-0:32\.7\.0\((\d+\.\d+)\*V\)`)},
	{"l2_voltage", regexp.MustCompile(`1-0:52\.7\.0\((\d+\.\d+)\*V\)`)},
	{"l3_voltage", regexp.MustCompile(`1-0:72\.7\.0\((\d+\.\d+)\*V\)`)},
	{"l1_current", regexp.MustCompile(`1-0:31\.7\.0\((\d+\.\d+)\*A\)`)},
	{"l2_current", regexp.MustCompile(`1-0:51\.7\.0\((\d+\.\d+)\*A\)`)},
	{"l3_current", regexp.MustCompile(`1-0:71\.7\.0\((\d+\.\d+)\*A\)`)},
	{"switch_electricity", regexp.MustCompile(`0-0:96\.3\.10\((\d+)\)`)},
	{"switch_gas", regexp.MustCompile(`0-1:24\.4\.0\((\d+)\)`)},
	{"gas_consumption", regexp.MustCompile(`0-1:24\.2\.3\(\d{12}[WS]\)\((\d+\.\d+)\*m3\)`)},
}

var (
	timestampPattern      = regexp.MustCompile(`0-0:1\.0\.0\((\d{12})([WS])\)`)
	tariffPattern         = regexp.MustCompile(`0-0:96\.14\.0\((\d{4})\)`)
	serialElectricPattern = regexp.MustCompile(`0-0:96\.1\.1\(([A-F0-9]+)\)`)
	serialGasPattern      = regexp.MustCompile(`0-1:96\.1\.1\(([A-F0-9]+)\)`)
)

var crcTable = crc16.MakeTable(crc16.CRC16_ARC)

type Config struct {
	// Station name used when the telegram carries no electricity serial
	Station string
	// Location of the meter clock, UTC when nil
	Location *time.Location
	// Clock used when the telegram carries no timestamp
	Now    func() time.Time
	Logger *log.Logger
}

type Parser struct {
	cfg    Config
	sink   events.Sink
	port   events.Port
	logger *log.Logger
}

func NewParser(cfg Config, sink events.Sink, port events.Port) *Parser {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if sink == nil {
		sink = events.Nop{}
	}
	return &Parser{
		cfg:    cfg,
		sink:   sink,
		port:   port,
		logger: cfg.Logger.With("component", "p1", "port", events.PortName(port)),
	}
}

// Checksum returns the CRC16/ARC of data as four upper case hex digits.
// DSMR covers everything from '/' up to and including '!'.
func Checksum(data string) string {
	return fmt.Sprintf("%04X", crc16.Checksum([]byte(data), crcTable))
}

// ValidateCRC checks the four hex digits following '!'.
func ValidateCRC(telegram string) bool {
	parts := strings.Split(telegram, "!")
	if len(parts) != 2 || len(parts[1]) < 4 {
		return false
	}
	return strings.ToUpper(parts[1][:4]) == Checksum(parts[0]+"!")
}

// ParseTelegram validates the checksum and extracts every known OBIS value.
// The message time is the meter timestamp when present.
func (p *Parser) ParseTelegram(telegram string) (msg *meas.MeasMsg, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg, err = nil, p.report(ingesterr.Recovered("p1.ParseTelegram", r, telegram))
		}
	}()

	if strings.TrimSpace(telegram) == "" {
		return nil, p.report(ingesterr.Invalid("p1.ParseTelegram", ingesterr.ErrEmptyInput, "empty telegram", telegram))
	}
	if !ValidateCRC(telegram) {
		return nil, p.report(ingesterr.Invalid("p1.ParseTelegram", ingesterr.ErrChecksum, "invalid CRC", telegram))
	}

	obsTime := p.cfg.Now().In(p.cfg.Location).Truncate(time.Second)
	if match := timestampPattern.FindStringSubmatch(telegram); match != nil {
		if t, err := time.ParseInLocation("060102150405", match[1], p.cfg.Location); err == nil {
			obsTime = t
		}
	}

	station := p.cfg.Station
	if match := serialElectricPattern.FindStringSubmatch(telegram); match != nil {
		station = decodeSerial(match[1])
	}

	msg = meas.NewMeasMsg()
	msg.SetStation(station)
	add := func(name, value string) {
		msg.Add(meas.NewMeas(name, obsTime, value, meas.StatusOK, station))
	}

	for _, field := range obisFields {
		if match := field.pattern.FindStringSubmatch(telegram); match != nil {
			add(field.name, match[1])
		}
	}

	if match := tariffPattern.FindStringSubmatch(telegram); match != nil {
		if value, err := strconv.Atoi(match[1]); err == nil {
			// 0001 and 0002 are tariffs 1 and 2
			add("current_tariff", strconv.Itoa(value%10))
		}
	}
	if match := serialGasPattern.FindStringSubmatch(telegram); match != nil {
		add("meter_serial_gas", decodeSerial(match[1]))
	}

	if msg.Count() == 0 {
		return nil, p.report(ingesterr.Invalid("p1.ParseTelegram", ingesterr.ErrNoMeas, "no known OBIS codes", telegram))
	}
	return msg, nil
}

// Serial numbers are sent hex encoded.
func decodeSerial(s string) string {
	if decoded, err := hex.DecodeString(s); err == nil {
		return string(decoded)
	}
	return s
}

func (p *Parser) report(err error) error {
	err = ingesterr.WithPort(err, events.PortName(p.port))
	p.logger.Warn("telegram rejected", "err", err)
	p.sink.ParseError(p.port, err)
	return err
}
