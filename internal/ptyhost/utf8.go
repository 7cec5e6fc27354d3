package ptyhost

// incompleteUTF8Tail returns the number of trailing bytes that form an
// incomplete multi-byte UTF-8 sequence. The caller holds these bytes back
// until more data arrives, so a split rune never reaches subscribers as
// U+FFFD garbage.
func incompleteUTF8Tail(data []byte) int {
	n := len(data)
	if n == 0 || data[n-1] < 0x80 {
		return 0
	}
	// Scan backwards for the start byte of the last sequence. Start bytes
	// are 11xxxxxx, continuations 10xxxxxx.
	for i := 0; i < 4 && i < n; i++ {
		b := data[n-1-i]
		if b&0xC0 != 0x80 {
			var seqLen int
			switch {
			case b&0xE0 == 0xC0:
				seqLen = 2
			case b&0xF0 == 0xE0:
				seqLen = 3
			case b&0xF8 == 0xF0:
				seqLen = 4
			default:
				return 0
			}
			if have := i + 1; have < seqLen {
				return have
			}
			return 0
		}
	}
	// 4+ continuation bytes in a row is invalid UTF-8, send as-is.
	return 0
}
