package model

// ZoneID formats "{prefix}_{seq}", e.g. "ob_M5_12".
func ZoneID(prefix string, seq int) string {
	return prefix + "_" + Itoa(seq)
}

// Itoa is a minimal int-to-string converter used when formatting zone ids.
func Itoa(n int) string {
	if n == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
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
