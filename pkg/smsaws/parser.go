// Package smsaws reads and writes the semicolon delimited AWS message format
//
//	(S:STATION;D:YYMMDD;T:HHMMSS;NAME:value;NAME:value;...)
//
// as sent by automatic weather stations over SMS, e-mail and serial links.
package smsaws

import (
	"strings"

	"github.com/NotCoffee418/sensor_gateway/pkg/events"
	"github.com/NotCoffee418/sensor_gateway/pkg/ingesterr"
	"github.com/NotCoffee418/sensor_gateway/pkg/meas"
	"github.com/NotCoffee418/sensor_gateway/pkg/parser"
)

// Segments of a multi-message blob at or below this length are taken to be
// fragments, not messages.
const minMessageLength = 20

type Parser struct {
	*parser.Parser
}

func NewParser(cfg parser.Config, sink events.Sink, port events.Port) *Parser {
	return &Parser{Parser: parser.New("smsaws", newHooks(cfg), cfg, sink, port)}
}

// ParseMessageIntoMultipleMeasMsg splits data on ')' and parses every
// segment longer than 20 characters, the trailing one included, with the ')'
// put back. Segments that fail to parse are reported and skipped. Shorter
// segments are taken to be fragments of a message split across reads: the
// last one not followed by a longer segment is returned as the remainder so
// the caller can prepend it to the next read.
func (p *Parser) ParseMessageIntoMultipleMeasMsg(data string) (result *meas.MultiMeasMsg) {
	result = &meas.MultiMeasMsg{}
	defer func() {
		if r := recover(); r != nil {
			p.Report(ingesterr.Recovered("smsaws.ParseMessageIntoMultipleMeasMsg", r, data))
			result = &meas.MultiMeasMsg{}
		}
	}()

	for _, segment := range strings.Split(data, ")") {
		trimmed := strings.TrimSpace(segment)
		if len(trimmed) <= minMessageLength {
			if trimmed != "" {
				result.Remainder = segment
			}
			continue
		}
		result.Remainder = ""
		msg, err := p.ParseMessageIntoMeasMsg(segment + ")")
		if err != nil {
			continue
		}
		result.Messages = append(result.Messages, msg)
	}
	return result
}

// ParseSubMessages runs FindSubMessages over blob and parses each result.
// Sub-messages that yield nothing are skipped.
func (p *Parser) ParseSubMessages(blob string) []*meas.MeasMsg {
	var out []*meas.MeasMsg
	for _, sub := range FindSubMessages(blob) {
		msg, err := p.ParseMessageIntoMeasMsg(sub)
		if err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out
}
