package smsaws

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/NotCoffee418/sensor_gateway/pkg/ingesterr"
	"github.com/NotCoffee418/sensor_gateway/pkg/measutil"
	"github.com/NotCoffee418/sensor_gateway/pkg/parser"
)

// DefaultStation names messages parsed without a header.
const DefaultStation = "S1"

const stationBlacklist = "<>|,;~^"

var (
	variableName = regexp.MustCompile(`^[a-zA-Z0-9_.]*$`)
	dateDigits   = regexp.MustCompile(`^(\d{6}|\d{8})$`)
	timeDigits   = regexp.MustCompile(`^\d{6}$`)
)

// Hooks implements parser.Hooks for "(S:..;D:..;T:..;VAR:val;...)".
type Hooks struct {
	indexOfFirstValue int
	location          *time.Location
	now               func() time.Time
}

func newHooks(cfg parser.Config) Hooks {
	h := Hooks{
		indexOfFirstValue: cfg.IndexOfFirstValue,
		location:          cfg.Location,
		now:               cfg.Now,
	}
	if h.location == nil {
		h.location = time.UTC
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

func (h Hooks) headerless() bool {
	return h.indexOfFirstValue <= 0
}

func (h Hooks) ParseStationName(fields []string) (string, error) {
	if h.headerless() {
		return DefaultStation, nil
	}
	field := strings.TrimSpace(fields[0])
	if !strings.HasPrefix(field, "S:") {
		return "", ingesterr.Invalid("smsaws.ParseStationName", ingesterr.ErrStation, "first field is not S:<station>", field)
	}
	name := strings.TrimSpace(field[2:])
	if name == "" || strings.Trim(name, measutil.MissingMarker) == "" {
		return "", ingesterr.Invalid("smsaws.ParseStationName", ingesterr.ErrStation, "station name is empty", field)
	}
	if strings.ContainsAny(name, stationBlacklist) {
		return "", ingesterr.Invalid("smsaws.ParseStationName", ingesterr.ErrStation, "station name has a forbidden character", field)
	}
	return name, nil
}

// ParseDate reads D:YYMMDD or D:YYYYMMDD. Six digit years are taken to be
// in the 2000s.
func (h Hooks) ParseDate(fields []string) (parser.Date, error) {
	if h.headerless() {
		now := h.now().In(h.location)
		return parser.Date{Year: now.Year(), Month: now.Month(), Day: now.Day()}, nil
	}
	if len(fields) < 2 {
		return parser.Date{}, ingesterr.Invalid("smsaws.ParseDate", ingesterr.ErrDate, "date field missing", strings.Join(fields, ";"))
	}
	field := strings.TrimSpace(fields[1])
	digits, ok := strings.CutPrefix(field, "D:")
	if !ok || !dateDigits.MatchString(digits) {
		return parser.Date{}, ingesterr.Invalid("smsaws.ParseDate", ingesterr.ErrDate, "expected D:YYMMDD or D:YYYYMMDD", field)
	}
	if len(digits) == 6 {
		digits = "20" + digits
	}
	d, err := time.ParseInLocation("20060102", digits, h.location)
	if err != nil {
		return parser.Date{}, ingesterr.Invalid("smsaws.ParseDate", ingesterr.ErrDate, "not a calendar date", field)
	}
	return parser.Date{Year: d.Year(), Month: d.Month(), Day: d.Day()}, nil
}

// ParseTime reads T:HHMMSS.
func (h Hooks) ParseTime(fields []string) (parser.Clock, error) {
	if h.headerless() {
		now := h.now().In(h.location)
		return parser.Clock{Hour: now.Hour(), Minute: now.Minute(), Second: now.Second()}, nil
	}
	if len(fields) < 3 {
		return parser.Clock{}, ingesterr.Invalid("smsaws.ParseTime", ingesterr.ErrTime, "time field missing", strings.Join(fields, ";"))
	}
	field := strings.TrimSpace(fields[2])
	digits, ok := strings.CutPrefix(field, "T:")
	if !ok || !timeDigits.MatchString(digits) {
		return parser.Clock{}, ingesterr.Invalid("smsaws.ParseTime", ingesterr.ErrTime, "expected T:HHMMSS", field)
	}
	hour, _ := strconv.Atoi(digits[0:2])
	minute, _ := strconv.Atoi(digits[2:4])
	second, _ := strconv.Atoi(digits[4:6])
	if hour > 23 || minute > 59 || second > 59 {
		return parser.Clock{}, ingesterr.Invalid("smsaws.ParseTime", ingesterr.ErrTime, "time of day out of range", field)
	}
	return parser.Clock{Hour: hour, Minute: minute, Second: second}, nil
}

// ParseValue splits NAME:value. Colons after the first belong to the value,
// so "TIME:12:00:00" keeps "12:00:00". Common code names are compressed
// before the name is checked.
func (h Hooks) ParseValue(field string) (string, string, error) {
	name, value, ok := strings.Cut(field, ":")
	if !ok {
		return "", "", ingesterr.Invalid("smsaws.ParseValue", ingesterr.ErrValue, "field has no ':'", field)
	}
	name = measutil.CompressCommonCode(strings.TrimSpace(name))
	if !variableName.MatchString(name) {
		return "", "", ingesterr.Invalid("smsaws.ParseValue", ingesterr.ErrValue, "variable name has a forbidden character", field)
	}
	return name, value, nil
}
