package extractor

// candidate is one brace-delimited span cut out of the stream.
type candidate struct {
	text      string
	abandoned bool
}

// braceScanner finds brace-balanced object spans in a byte stream. It keeps
// its state between Feed calls so chunk boundaries never change the result.
// Braces inside JSON string literals are not counted.
//
// A '{' seen while already at maxDepth cannot belong to a valid record, so
// the open span is abandoned and scanning restarts at the new brace.
//
// A raw control byte inside a string literal is invalid JSON and means the
// quote parity of the open span is wrong. The span is then cut at its next
// '{' and the remainder is scanned again, so one unterminated string never
// hides the records behind it.
type braceScanner struct {
	maxDepth int
	buf      []byte
	depth    int
	inString bool
	escaped  bool
}

func newBraceScanner(maxDepth int) *braceScanner {
	if maxDepth <= 0 {
		maxDepth = 1
	}
	return &braceScanner{maxDepth: maxDepth}
}

func (s *braceScanner) Feed(chunk string) []candidate {
	var out []candidate
	for chunk != "" {
		out, chunk = s.scan(out, chunk)
	}
	return out
}

// Flush resynchronises a span left open at the end of the stream. A span
// with no later '{' stays pending and is left to the caller.
func (s *braceScanner) Flush() []candidate {
	var out []candidate
	for s.depth > 0 && s.nextBrace() > 0 {
		rest, _ := s.resync(&out)
		for rest != "" {
			out, rest = s.scan(out, rest)
		}
	}
	return out
}

func (s *braceScanner) nextBrace() int {
	for i := 1; i < len(s.buf); i++ {
		if s.buf[i] == '{' {
			return i
		}
	}
	return -1
}

// scan consumes chunk until it ends or a resync hands back text that must
// be scanned again from a clean state.
func (s *braceScanner) scan(out []candidate, chunk string) ([]candidate, string) {
	for i := 0; i < len(chunk); i++ {
		b := chunk[i]
		if s.depth == 0 {
			// text between objects is never part of a record
			if b == '{' {
				s.depth = 1
				s.buf = append(s.buf[:0], b)
			}
			continue
		}
		if s.inString {
			if b < 0x20 {
				rest, ok := s.resync(&out)
				if !ok {
					rest = ""
				}
				return out, rest + chunk[i:]
			}
			s.buf = append(s.buf, b)
			switch {
			case s.escaped:
				s.escaped = false
			case b == '\\':
				s.escaped = true
			case b == '"':
				s.inString = false
			}
			continue
		}
		switch b {
		case '"':
			s.inString = true
		case '{':
			if s.depth >= s.maxDepth {
				out = append(out, candidate{text: string(s.buf), abandoned: true})
				s.buf = append(s.buf[:0], b)
				s.depth = 1
				continue
			}
			s.depth++
		case '}':
			s.depth--
		}
		s.buf = append(s.buf, b)
		if s.depth == 0 {
			out = append(out, candidate{text: string(s.buf)})
			s.buf = s.buf[:0]
		}
	}
	return out, ""
}

// resync abandons the open span up to its next '{' and returns the text
// from that brace on. Without a later brace the whole span is abandoned and
// ok is false. The scanner is reset either way.
func (s *braceScanner) resync(out *[]candidate) (string, bool) {
	idx := s.nextBrace()
	text := string(s.buf)
	s.buf = s.buf[:0]
	s.depth = 0
	s.inString = false
	s.escaped = false
	if idx < 0 {
		*out = append(*out, candidate{text: text, abandoned: true})
		return "", false
	}
	*out = append(*out, candidate{text: text[:idx], abandoned: true})
	return text[idx:], true
}

// Pending returns the size of the unterminated span held by the scanner.
func (s *braceScanner) Pending() int {
	if s.depth == 0 {
		return 0
	}
	return len(s.buf)
}
