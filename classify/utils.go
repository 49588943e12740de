package classify

// truncate truncates a string to maxLen characters (Unicode-safe). Used to
// bound query text in debug logs.
func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
