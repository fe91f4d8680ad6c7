package scanner

import "strings"

// matcher tracks how much of the marker the most recent runes spell out.
type matcher struct {
	marker []rune
	buf    []rune
}

// feed appends r and returns the runes that can no longer belong to a marker
// occurrence. The longest suffix of the buffer that is still a marker prefix
// is kept as the new candidate, so a rune that breaks one candidate can start
// the next. complete reports that the buffer equals the marker.
func (m *matcher) feed(r rune) (flushed []rune, complete bool) {
	m.buf = append(m.buf, r)
	keep := len(m.buf)
	for ; keep > 0; keep-- {
		if hasRunePrefix(m.marker, m.buf[len(m.buf)-keep:]) {
			break
		}
	}
	cut := len(m.buf) - keep
	if cut > 0 {
		flushed = append(flushed, m.buf[:cut]...)
		m.buf = append(m.buf[:0], m.buf[cut:]...)
	}
	return flushed, len(m.buf) == len(m.marker)
}

func (m *matcher) pending() []rune { return m.buf }

func (m *matcher) reset() { m.buf = m.buf[:0] }

func hasRunePrefix(s, prefix []rune) bool {
	if len(prefix) > len(s) {
		return false
	}
	for i, r := range prefix {
		if s[i] != r {
			return false
		}
	}
	return true
}

// ScanState is the per-stream state of a scan: the start and end marker
// candidates, the raw response, the pass-through text and the invocation
// being collected. A ScanState belongs to exactly one stream.
type ScanState struct {
	marker      string
	start       matcher
	end         matcher
	inside      bool
	raw         strings.Builder
	passThrough strings.Builder
	invocation  strings.Builder
	invocations []string
}

// NewScanState returns an empty state for the given marker. The marker must not be empty.
func NewScanState(marker string) *ScanState {
	if marker == "" {
		panic("scanner: marker must not be empty")
	}
	m := []rune(marker)
	return &ScanState{
		marker: marker,
		start:  matcher{marker: m},
		end:    matcher{marker: m},
	}
}

// Feed classifies every rune of text and returns the pass-through produced
// by it. Runes held as a marker candidate are not returned until they are
// known not to form a marker.
func (s *ScanState) Feed(text string) string {
	s.raw.WriteString(text)
	var out strings.Builder
	for _, r := range text {
		if !s.inside {
			flushed, complete := s.start.feed(r)
			writeRunes(&out, flushed)
			if complete {
				s.start.reset()
				s.inside = true
			}
			continue
		}
		flushed, complete := s.end.feed(r)
		writeRunes(&s.invocation, flushed)
		if complete {
			s.invocations = append(s.invocations, s.invocation.String())
			s.invocation.Reset()
			s.end.reset()
			s.inside = false
		}
	}
	s.passThrough.WriteString(out.String())
	return out.String()
}

// Finish flushes whatever is still held at stream end and returns it as
// pass-through. unterminated is true when the stream ended inside an
// invocation; its text is returned as pass-through, opening marker included,
// and no invocation is recorded for it.
func (s *ScanState) Finish() (tail string, unterminated bool) {
	var out strings.Builder
	if s.inside {
		out.WriteString(s.marker)
		out.WriteString(s.invocation.String())
		writeRunes(&out, s.end.pending())
		s.invocation.Reset()
		s.end.reset()
		s.inside = false
		unterminated = true
	} else {
		writeRunes(&out, s.start.pending())
		s.start.reset()
	}
	s.passThrough.WriteString(out.String())
	return out.String(), unterminated
}

// Raw returns every content rune seen so far, markers included.
func (s *ScanState) Raw() string { return s.raw.String() }

// PassThrough returns the text released to the caller so far.
func (s *ScanState) PassThrough() string { return s.passThrough.String() }

// Invocations returns the completed invocation texts, markers excluded, in detection order.
func (s *ScanState) Invocations() []string {
	return append([]string(nil), s.invocations...)
}

// Inside reports whether the start marker has been seen without its end marker.
func (s *ScanState) Inside() bool { return s.inside }

func writeRunes(b *strings.Builder, rs []rune) {
	for _, r := range rs {
		b.WriteRune(r)
	}
}
