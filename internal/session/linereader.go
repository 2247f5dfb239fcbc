package session

import "strings"

// Telnet command bytes
const (
	iac  = 255
	dont = 254
	will = 251
	sb   = 250
	se   = 240
)

const maxPartial = 4096

// lineReader assembles CRLF lines from raw reads. Telnet negotiation is
// dropped, and an unterminated tail is released early when it is a prompt.
type lineReader struct {
	buf     []byte
	state   int // 0 data, 1 after IAC, 2 option byte, 3 subnegotiation, 4 IAC inside subnegotiation
	release func(partial string) bool
}

func newLineReader(release func(partial string) bool) *lineReader {
	return &lineReader{release: release}
}

// Feed consumes raw bytes and returns complete lines
func (r *lineReader) Feed(p []byte) []string {
	for _, c := range p {
		switch r.state {
		case 0:
			if c == iac {
				r.state = 1
				continue
			}
			r.buf = append(r.buf, c)
		case 1:
			switch {
			case c == iac:
				r.buf = append(r.buf, c)
				r.state = 0
			case c >= will && c <= dont:
				r.state = 2
			case c == sb:
				r.state = 3
			default:
				r.state = 0
			}
		case 2:
			r.state = 0
		case 3:
			if c == iac {
				r.state = 4
			}
		case 4:
			if c == se {
				r.state = 0
			} else {
				r.state = 3
			}
		}
	}

	var lines []string
	for {
		i := indexNewline(r.buf)
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(r.buf[:i]), "\r")
		r.buf = r.buf[i+1:]
		lines = append(lines, line)
	}

	if len(r.buf) > 0 {
		partial := string(r.buf)
		if len(r.buf) >= maxPartial || (r.release != nil && r.release(partial)) {
			lines = append(lines, strings.TrimRight(partial, "\r"))
			r.buf = r.buf[:0]
		}
	}
	return lines
}

func indexNewline(b []byte) int {
	for i, c := range b {
		if c == '\n' {
			return i
		}
	}
	return -1
}
