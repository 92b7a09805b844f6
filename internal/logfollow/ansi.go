package logfollow

const (
	ansiEscape byte = 0x1b
	ansiCSI8   byte = 0x9b // single-byte (8-bit C1) form of ESC '['
)

// StripANSICodes removes SGR/CSI sequences, OSC sequences, and their
// single-byte C1 equivalents from raw log bytes, so color codes a
// container wrote for a terminal don't leak into the aggregated event or
// the hub.
func StripANSICodes(data []byte) string {
	out := make([]byte, 0, len(data))

	for i := 0; i < len(data); {
		b := data[i]

		switch {
		case b == ansiEscape && i+1 < len(data) && data[i+1] == '[':
			i = skipCSI(data, i+2)
		case b == ansiEscape && i+1 < len(data) && data[i+1] == ']':
			i = skipOSC(data, i+2)
		case b == ansiCSI8:
			i = skipCSI(data, i+1)
		default:
			out = append(out, b)
			i++
		}
	}

	return string(out)
}

// skipCSI advances past a CSI sequence's parameter/intermediate bytes and
// its final byte (0x40-0x7E), starting at the first byte after the
// introducer.
func skipCSI(data []byte, i int) int {
	for i < len(data) && !(data[i] >= 0x40 && data[i] <= 0x7e) {
		i++
	}

	if i < len(data) {
		i++
	}

	return i
}

// skipOSC advances past an OSC sequence, terminated by BEL or ST (ESC \),
// starting at the first byte after the introducer.
func skipOSC(data []byte, i int) int {
	for i < len(data) {
		if data[i] == 0x07 {
			return i + 1
		}

		if data[i] == ansiEscape && i+1 < len(data) && data[i+1] == '\\' {
			return i + 2
		}

		i++
	}

	return i
}
