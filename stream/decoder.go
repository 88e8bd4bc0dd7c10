package stream

import "unicode/utf8"

// utf8Decoder turns a byte stream into text without splitting runes at
// chunk boundaries. Bytes forming an incomplete rune at the end of a
// chunk are held back and prepended to the next one.
type utf8Decoder struct {
	pending []byte
}

// decode returns the longest decodable prefix of pending+p and retains
// any trailing partial rune for the next call.
func (d *utf8Decoder) decode(p []byte) string {
	b := p
	if len(d.pending) > 0 {
		b = append(d.pending, p...)
		d.pending = nil
	}

	// A rune is at most utf8.UTFMax bytes, so only the last few bytes
	// can belong to an unfinished one. Find the last rune start; if the
	// rune it opens is incomplete, hold those bytes back.
	cut := len(b)
	for i := len(b) - 1; i >= 0 && len(b)-i < utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				cut = i
			}
			break
		}
	}

	if cut < len(b) {
		d.pending = append([]byte(nil), b[cut:]...)
	}
	return string(b[:cut])
}

// flush returns whatever is still held back. Called at end of stream;
// the result is invalid UTF-8 by definition but is surfaced rather than
// silently dropped.
func (d *utf8Decoder) flush() string {
	s := string(d.pending)
	d.pending = nil
	return s
}
