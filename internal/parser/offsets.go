package parser

import "unicode/utf16"

// Node offsets are expressed in UTF-16 code units rather than bytes or runes,
// so that stored offsets re-slice identically in every consumer regardless of
// its string representation.

// utf16Len returns the length of s in UTF-16 code units.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// SliceUTF16 returns the substring of s covered by [start, end) in UTF-16
// code units. ok is false when the range is out of bounds or would split a
// surrogate pair.
func SliceUTF16(s string, start, end int) (string, bool) {
	if start < 0 || end < start {
		return "", false
	}
	var (
		u16       int
		byteStart = -1
		byteEnd   = -1
	)
	for i, r := range s {
		if u16 == start {
			byteStart = i
		}
		if u16 == end {
			byteEnd = i
			break
		}
		u16 += utf16.RuneLen(r)
		if u16 > end {
			return "", false // end splits a surrogate pair
		}
		if byteStart == -1 && u16 > start {
			return "", false // start splits a surrogate pair
		}
	}
	if byteStart == -1 {
		if u16 == start {
			byteStart = len(s)
		} else {
			return "", false
		}
	}
	if byteEnd == -1 {
		if u16 == end {
			byteEnd = len(s)
		} else {
			return "", false
		}
	}
	return s[byteStart:byteEnd], true
}
