package ollama

import "bytes"

// lineSplitter turns arbitrary body chunks into complete newline-delimited
// lines, keeping any unterminated tail for the next Feed.
type lineSplitter struct {
	buf []byte
}

// Feed appends chunk and returns every complete, non-blank line.
// Returned slices are copies and stay valid after later calls.
func (s *lineSplitter) Feed(chunk []byte) [][]byte {
	s.buf = append(s.buf, chunk...)

	var lines [][]byte
	for {
		idx := bytes.IndexByte(s.buf, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSpace(s.buf[:idx])
		if len(line) > 0 {
			lines = append(lines, append([]byte(nil), line...))
		}
		s.buf = s.buf[idx+1:]
	}
	return lines
}

// Rest returns the buffered unterminated tail, trimmed.
func (s *lineSplitter) Rest() []byte {
	rest := bytes.TrimSpace(s.buf)
	s.buf = nil
	return rest
}
