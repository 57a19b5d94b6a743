package logging

// MaxLogFieldLength caps string fields in log entries. Remote command output
// can be arbitrarily large (apt upgrade alone produces pages of it).
const MaxLogFieldLength = 512

// Truncate shortens s to MaxLogFieldLength, appending "..." when cut.
func Truncate(s string) string {
	return TruncateN(s, MaxLogFieldLength)
}

// TruncateN shortens s to at most n characters, appending "..." when cut.
func TruncateN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// TruncateSlice keeps the first maxItems entries and appends a
// "... and N more" marker for the rest.
func TruncateSlice(items []string, maxItems int) []string {
	if len(items) <= maxItems {
		return items
	}
	result := make([]string, 0, maxItems+1)
	result = append(result, items[:maxItems]...)
	result = append(result, "... and "+itoa(len(items)-maxItems)+" more")
	return result
}

// itoa avoids pulling strconv into the hot logging path for tiny ints.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
