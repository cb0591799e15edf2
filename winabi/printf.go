package winabi

import (
	"math"
	"strconv"
	"strings"
)

// C formatted-output emulation. The compiler builds its diagnostics
// through _vsnprintf, so the core covers the conversions those format
// strings use; unknown conversions are dropped.

// formatC renders a printf-style format string, pulling each conversion
// value from next.
func formatC(format string, next func() uint64) string {
	var out strings.Builder
	i := 0
	for i < len(format) {
		c := format[i]
		if c != '%' {
			out.WriteByte(c)
			i++
			continue
		}
		i++
		for i < len(format) && strings.IndexByte("-+ #0", format[i]) >= 0 {
			i++
		}
		// width and precision are not honored, but a * still consumes
		// its argument to keep the va_list aligned
		if i < len(format) && format[i] == '*' {
			next()
			i++
		} else {
			for i < len(format) && format[i] >= '0' && format[i] <= '9' {
				i++
			}
		}
		if i < len(format) && format[i] == '.' {
			i++
			if i < len(format) && format[i] == '*' {
				next()
				i++
			} else {
				for i < len(format) && format[i] >= '0' && format[i] <= '9' {
					i++
				}
			}
		}
	lengths:
		for i < len(format) {
			switch format[i] {
			case 'h', 'l', 'L', 'z', 'j', 't':
				i++
			case 'I': // the I, I32 and I64 forms
				i++
				if i+1 < len(format) && (format[i:i+2] == "32" || format[i:i+2] == "64") {
					i += 2
				}
			default:
				break lengths
			}
		}
		if i >= len(format) {
			break
		}
		spec := format[i]
		i++
		switch spec {
		case '%':
			out.WriteByte('%')
		case 's':
			if p := uintptr(next()); p != 0 {
				out.WriteString(cstr(p))
			}
		case 'c':
			out.WriteByte(byte(next()))
		case 'd', 'i':
			out.WriteString(strconv.FormatInt(int64(next()), 10))
		case 'u':
			out.WriteString(strconv.FormatUint(next(), 10))
		case 'x':
			out.WriteString(strconv.FormatUint(next(), 16))
		case 'X':
			out.WriteString(strings.ToUpper(strconv.FormatUint(next(), 16)))
		case 'p':
			hex := strings.ToUpper(strconv.FormatUint(next(), 16))
			out.WriteString(strings.Repeat("0", 16-len(hex)))
			out.WriteString(hex)
		case 'f', 'F', 'e', 'E', 'g', 'G':
			out.WriteString(strconv.FormatFloat(math.Float64frombits(next()), 'g', -1, 64))
		}
	}
	return out.String()
}

// vsnprintf copies rendered text into a foreign buffer with a NUL
// terminator, truncating to the buffer size, and returns the number of
// characters stored.
func vsnprintf(dst uintptr, size int, text string) uint64 {
	if dst == 0 || size <= 0 {
		return i64(-1)
	}
	n := len(text)
	if n > size-1 {
		n = size - 1
	}
	buf := mem(dst, n+1)
	copy(buf, text[:n])
	buf[n] = 0
	return uint64(n)
}

// vaReader walks a foreign va_list: on this convention every variadic
// slot is 8 bytes.
func vaReader(list uintptr) func() uint64 {
	return func() uint64 {
		v := getU64(list)
		list += 8
		return v
	}
}

// sliceReader feeds conversions from already-captured register
// arguments, returning zero once they run out.
func sliceReader(rest []uint64) func() uint64 {
	idx := 0
	return func() uint64 {
		if idx >= len(rest) {
			return 0
		}
		v := rest[idx]
		idx++
		return v
	}
}
