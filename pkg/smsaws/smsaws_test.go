package smsaws

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/NotCoffee418/sensor_gateway/pkg/events"
	"github.com/NotCoffee418/sensor_gateway/pkg/ingesterr"
	"github.com/NotCoffee418/sensor_gateway/pkg/meas"
	"github.com/NotCoffee418/sensor_gateway/pkg/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testPort = events.NamedPort{Remote: "COM3", Local: "gateway"}

func newTestParser(cfg parser.Config) (*Parser, *[]error) {
	var errs []error
	sink := events.SinkFuncs{OnParseError: func(_ events.Port, err error) { errs = append(errs, err) }}
	return NewParser(cfg, sink, testPort), &errs
}

func TestParseSingleMessage(t *testing.T) {
	p, errs := newTestParser(parser.DefaultConfig())

	msg, err := p.ParseMessageIntoMeasMsg("(S:JABALALKAWR;D:050914;T:170000;PR:0.6;TA:1.1)")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, 2, msg.Count())
	assert.Equal(t, "JABALALKAWR", msg.Station())

	pr, ok := msg.Get("PR")
	require.True(t, ok)
	assert.Equal(t, "0.6", pr.Value())
	assert.Equal(t, time.Date(2005, 9, 14, 17, 0, 0, 0, time.UTC), pr.ObsTime())
	ta, ok := msg.Get("TA")
	require.True(t, ok)
	assert.Equal(t, "1.1", ta.Value())
	assert.Empty(t, *errs)
}

func TestHeaderlessMode(t *testing.T) {
	p, errs := newTestParser(parser.DefaultConfig())
	msg, err := p.ParseMessageIntoMeasMsg("(PR:0.6;TA:1.1)")
	assert.Error(t, err)
	assert.Nil(t, msg)
	assert.NotEmpty(t, *errs)

	now := time.Date(2024, 3, 1, 12, 30, 15, 0, time.UTC)
	cfg := parser.DefaultConfig()
	cfg.IndexOfFirstValue = 0
	cfg.Now = func() time.Time { return now }
	p, _ = newTestParser(cfg)

	msg, err = p.ParseMessageIntoMeasMsg("(PR:0.6;TA:1.1)")
	require.NoError(t, err)
	assert.Equal(t, 2, msg.Count())
	assert.Equal(t, DefaultStation, msg.Station())
	got, _ := msg.Time()
	assert.Equal(t, now, got)
}

func TestHeaderValidation(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"empty station", "(S:;D:050914;T:170000;PR:0.6)", ingesterr.ErrStation},
		{"slash station", "(S:/;D:050914;T:170000;PR:0.6)", ingesterr.ErrStation},
		{"blacklisted station", "(S:AB<C;D:050914;T:170000;PR:0.6)", ingesterr.ErrStation},
		{"station without prefix", "(JABAL;D:050914;T:170000;PR:0.6)", ingesterr.ErrStation},
		{"short date", "(S:A;D:0509;T:170000;PR:0.6)", ingesterr.ErrDate},
		{"impossible date", "(S:A;D:051332;T:170000;PR:0.6)", ingesterr.ErrDate},
		{"time with letters", "(S:A;D:050914;T:17h000;PR:0.6)", ingesterr.ErrTime},
		{"hour out of range", "(S:A;D:050914;T:250000;PR:0.6)", ingesterr.ErrTime},
		{"header only", "(S:A)", ingesterr.ErrDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, errs := newTestParser(parser.DefaultConfig())
			msg, err := p.ParseMessageIntoMeasMsg(tt.in)
			assert.Nil(t, msg)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, ingesterr.IsInvalid(err))
			assert.Len(t, *errs, 1)
		})
	}
}

func TestDateForms(t *testing.T) {
	p, _ := newTestParser(parser.DefaultConfig())
	for _, in := range []string{
		"(S:A;D:050914;T:170000;PR:0.6)",
		"(S:A;D:20050914;T:170000;PR:0.6)",
	} {
		msg, err := p.ParseMessageIntoMeasMsg(in)
		require.NoError(t, err, in)
		got, _ := msg.Time()
		assert.Equal(t, time.Date(2005, 9, 14, 17, 0, 0, 0, time.UTC), got, in)
	}
}

// Six digit years always land in 2000-2099. Preserved behaviour: a station
// still sending 1998 data is read as 2098.
func TestSixDigitDateCentury(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"(S:A;D:000101;T:000000;PR:0.6)", 2000},
		{"(S:A;D:980101;T:000000;PR:0.6)", 2098},
		{"(S:A;D:990101;T:000000;PR:0.6)", 2099},
		{"(S:A;D:19980101;T:000000;PR:0.6)", 1998},
	}

	p, _ := newTestParser(parser.DefaultConfig())
	for _, tt := range tests {
		msg, err := p.ParseMessageIntoMeasMsg(tt.in)
		require.NoError(t, err, tt.in)
		got, _ := msg.Time()
		assert.Equal(t, time.Date(tt.want, 1, 1, 0, 0, 0, 0, time.UTC), got, tt.in)
	}
}

func TestValueFields(t *testing.T) {
	p, _ := newTestParser(parser.DefaultConfig())

	msg, err := p.ParseMessageIntoMeasMsg("(S:A;D:050914;T:170000;RH|AVG|PT1M|||%|:55;CLK:12:00:00;PR:;TA:,;)")
	require.NoError(t, err)

	require.Equal(t, 4, msg.Count())
	rh, ok := msg.Get("RH_AVG_PT1M")
	require.True(t, ok)
	assert.Equal(t, "55", rh.Value())

	clk, ok := msg.Get("CLK")
	require.True(t, ok)
	assert.Equal(t, "12:00:00", clk.Value())

	pr, _ := msg.Get("PR")
	assert.True(t, pr.IsMissing())
	ta, _ := msg.Get("TA")
	assert.True(t, ta.IsMissing())
}

func TestUncompressedPipeNameStopsParse(t *testing.T) {
	p, errs := newTestParser(parser.DefaultConfig())

	msg, err := p.ParseMessageIntoMeasMsg("(S:A;D:050914;T:170000;PR:0.6;WD|AVG|PT10M|:120;TA:1.1)")
	require.NoError(t, err)
	assert.Equal(t, 1, msg.Count())
	require.Len(t, *errs, 1)
	assert.ErrorIs(t, (*errs)[0], ingesterr.ErrValue)
}

func eightFragments() string {
	var lines []string
	for i := 1; i <= 8; i++ {
		lines = append(lines, fmt.Sprintf("S:ST%d;D:050914;T:1700%02d;PR:0.%d", i, i, i))
	}
	return "(" + strings.Join(lines, "\r\n") + ")"
}

func TestFindSubMessages(t *testing.T) {
	t.Run("eight fragments", func(t *testing.T) {
		subs := FindSubMessages(eightFragments())
		require.Len(t, subs, 8)
		for i, sub := range subs {
			assert.Equal(t, fmt.Sprintf("(S:ST%d;D:050914;T:1700%02d;PR:0.%d)", i+1, i+1, i+1), sub)
		}
	})

	t.Run("already parenthesised", func(t *testing.T) {
		subs := FindSubMessages("Subject: obs\r\n(S:A;D:050914;T:170000;PR:0.6)\r\n(S:B;D:050914;T:170000;PR:0.7)")
		assert.Equal(t, []string{
			"(S:A;D:050914;T:170000;PR:0.6)",
			"(S:B;D:050914;T:170000;PR:0.7)",
		}, subs)
	})

	t.Run("embedded paren abandons the blob", func(t *testing.T) {
		blob := "(S:A;D:050914;T:170000;PR:0.6\r\nS:B;D:05(0914;T:170000;PR:0.7\r\nS:C;D:050914;T:170000;PR:0.8)"
		assert.Empty(t, FindSubMessages(blob))
	})

	t.Run("no header", func(t *testing.T) {
		assert.Empty(t, FindSubMessages("PR:0.6;TA:1.1"))
	})

	t.Run("parse each", func(t *testing.T) {
		p, errs := newTestParser(parser.DefaultConfig())
		msgs := p.ParseSubMessages(eightFragments())
		require.Len(t, msgs, 8)
		assert.Equal(t, "ST8", msgs[7].Station())
		assert.Empty(t, *errs)
	})
}

func TestParseMessageIntoMultipleMeasMsg(t *testing.T) {
	t.Run("remainder kept", func(t *testing.T) {
		p, _ := newTestParser(parser.DefaultConfig())
		res := p.ParseMessageIntoMultipleMeasMsg("(S:A;D:050914;T:170000;PR:0.6)(S:B;D:050914;T:170000;PR:0.7)(S:C;D:0509")
		require.Equal(t, 2, res.Count())
		assert.Equal(t, "A", res.Messages[0].Station())
		assert.Equal(t, "B", res.Messages[1].Station())
		assert.Equal(t, "(S:C;D:0509", res.Remainder)

		next := p.ParseMessageIntoMultipleMeasMsg(res.Remainder + "14;T:170000;PR:0.8)")
		require.Equal(t, 1, next.Count())
		assert.Equal(t, "C", next.Messages[0].Station())
		assert.Empty(t, next.Remainder)
	})

	t.Run("short fragment before a message is dropped", func(t *testing.T) {
		p, errs := newTestParser(parser.DefaultConfig())
		res := p.ParseMessageIntoMultipleMeasMsg("junk)(S:A;D:050914;T:170000;PR:0.6)")
		assert.Equal(t, 1, res.Count())
		assert.Empty(t, res.Remainder)
		assert.Empty(t, *errs)
	})

	t.Run("terminated short fragment deferred", func(t *testing.T) {
		p, errs := newTestParser(parser.DefaultConfig())
		res := p.ParseMessageIntoMultipleMeasMsg("(S:A;D:050914;T:170000;PR:0.6)(S:B;D:05)")
		require.Equal(t, 1, res.Count())
		assert.Equal(t, "A", res.Messages[0].Station())
		assert.Equal(t, "(S:B;D:05", res.Remainder)
		assert.Empty(t, *errs)
	})

	t.Run("long trailing segment parsed", func(t *testing.T) {
		p, _ := newTestParser(parser.DefaultConfig())
		res := p.ParseMessageIntoMultipleMeasMsg("(S:A;D:050914;T:170000;PR:0.6)(S:B;D:050914;T:170000;PR:0.7")
		require.Equal(t, 2, res.Count())
		assert.Equal(t, "B", res.Messages[1].Station())
		pr, ok := res.Messages[1].Get("PR")
		require.True(t, ok)
		assert.Equal(t, "0.7", pr.Value())
		assert.Empty(t, res.Remainder)
	})

	t.Run("bad segment reported and skipped", func(t *testing.T) {
		p, errs := newTestParser(parser.DefaultConfig())
		res := p.ParseMessageIntoMultipleMeasMsg("(S:A;D:999999;T:170000;PR:0.6)(S:B;D:050914;T:170000;PR:0.7)")
		require.Equal(t, 1, res.Count())
		assert.Equal(t, "B", res.Messages[0].Station())
		assert.Len(t, *errs, 1)
	})

	t.Run("empty input", func(t *testing.T) {
		p, _ := newTestParser(parser.DefaultConfig())
		res := p.ParseMessageIntoMultipleMeasMsg("")
		assert.Zero(t, res.Count())
		assert.Empty(t, res.Remainder)
	})
}

func TestCode(t *testing.T) {
	obs := time.Date(2005, 9, 14, 17, 0, 0, 0, time.UTC)
	msg := meas.NewMeasMsg()
	msg.SetStation("JABALALKAWR")
	msg.Add(meas.NewMeas("PR", obs, "0.6", meas.StatusOK, ""))
	msg.Add(meas.NewMeas("TA", obs, "1.1", meas.StatusOK, ""))
	msg.Add(meas.NewMeas("TXT", obs, "a;b", meas.StatusOK, ""))

	assert.Equal(t, "(S:JABALALKAWR;D:050914;T:170000;PR:0.6;TA:1.1;TXT:a,b)", Code(msg))
	assert.Equal(t, "(S:JABALALKAWR;D:050914;T:170000;PR:0.6;TA:1.1;TXT:a b)", CodeWith(msg, " "))
	assert.Empty(t, Code(meas.NewMeasMsg()))
}

// Encoding then parsing keeps every name and value.
func TestCodeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		station := rapid.StringMatching(`[A-Z][A-Z0-9]{0,11}`).Draw(t, "station")
		obs := time.Date(
			rapid.IntRange(2000, 2099).Draw(t, "year"),
			time.Month(rapid.IntRange(1, 12).Draw(t, "month")),
			rapid.IntRange(1, 28).Draw(t, "day"),
			rapid.IntRange(0, 23).Draw(t, "hour"),
			rapid.IntRange(0, 59).Draw(t, "minute"),
			rapid.IntRange(0, 59).Draw(t, "second"),
			0, time.UTC)
		names := rapid.SliceOfNDistinct(rapid.StringMatching(`[A-Z][A-Z0-9_.]{0,7}`), 1, 8, rapid.ID[string]).Draw(t, "names")

		msg := meas.NewMeasMsg()
		msg.SetStation(station)
		values := make(map[string]string, len(names))
		for _, name := range names {
			value := rapid.StringMatching(`-?[0-9]{1,4}(\.[0-9]{1,3})?`).Draw(t, "value")
			values[name] = value
			msg.Add(meas.NewMeas(name, obs, value, meas.StatusOK, ""))
		}

		p := NewParser(parser.DefaultConfig(), nil, nil)
		got, err := p.ParseMessageIntoMeasMsg(Code(msg))
		require.NoError(t, err)
		require.Equal(t, len(names), got.Count())
		assert.Equal(t, station, got.Station())
		for _, m := range got.Measurements() {
			assert.Equal(t, values[m.Name()], m.Value())
			assert.Equal(t, obs, m.ObsTime())
		}
	})
}
