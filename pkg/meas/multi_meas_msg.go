package meas

// MultiMeasMsg is the result of parsing a blob of back-to-back messages.
// Remainder is the trailing partial message to prepend to the next chunk.
type MultiMeasMsg struct {
	Messages  []*MeasMsg
	Remainder string
}

func (m *MultiMeasMsg) Count() int {
	return len(m.Messages)
}
