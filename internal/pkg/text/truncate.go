package text

import "unicode/utf8"

// Truncate 把 s 截到最多 max 个字符（按 rune 计），截断时追加 "..."。
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
