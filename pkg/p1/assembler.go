package p1

import "strings"

// Assembler collects framed lines into whole telegrams. A telegram starts
// with a line beginning with '/' and ends with the line beginning with '!'.
// Lines outside a telegram are ignored.
type Assembler struct {
	buffer     strings.Builder
	inTelegram bool
}

// Line feeds one line including its terminator. It returns the telegram once
// the closing line has been seen.
func (a *Assembler) Line(line string) (string, bool) {
	if strings.HasPrefix(line, "/") {
		a.buffer.Reset()
		a.buffer.WriteString(line)
		a.inTelegram = true
		return "", false
	}
	if !a.inTelegram {
		return "", false
	}
	a.buffer.WriteString(line)
	if strings.HasPrefix(strings.TrimSpace(line), "!") {
		telegram := a.buffer.String()
		a.buffer.Reset()
		a.inTelegram = false
		return telegram, true
	}
	return "", false
}

func (a *Assembler) Reset() {
	a.buffer.Reset()
	a.inTelegram = false
}
