package schema

import "unicode/utf16"

// TextLength counts s the way editors index buffers: in UTF-16 code units,
// so characters outside the Basic Multilingual Plane count twice.
func TextLength(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

// ExceedsContentLength reports whether s is longer than MaxContentLength.
func ExceedsContentLength(s string) bool {
	// No rune takes more UTF-16 units than UTF-8 bytes.
	if len(s) <= MaxContentLength {
		return false
	}
	return TextLength(s) > MaxContentLength
}
