package smsaws

import "strings"

// FindSubMessages cuts a blob holding one or more back-to-back messages into
// individually parenthesised messages. Messages inside the blob may lack
// their own parentheses; a message ends at the next ')' or at a line that
// starts a new "S:" header, whichever comes first.
//
// A '(' inside any extracted message means the blob is malformed and nothing
// is returned.
func FindSubMessages(blob string) []string {
	first := strings.Index(blob, "(S:")
	if first < 0 {
		return nil
	}

	var out []string
	pos := first + 1
	for pos < len(blob) {
		rel := strings.Index(blob[pos:], "S:")
		if rel < 0 {
			break
		}
		start := pos + rel

		end := len(blob)
		if i := strings.IndexByte(blob[start:], ')'); i >= 0 {
			end = start + i
		}
		if i := strings.Index(blob[start+1:], "\nS:"); i >= 0 && start+1+i < end {
			end = start + 1 + i
		}

		sub := strings.TrimRight(blob[start:end], "\r\n")
		if strings.Contains(sub, "(") {
			return nil
		}
		out = append(out, "("+sub+")")
		pos = end + 1
	}
	return out
}
