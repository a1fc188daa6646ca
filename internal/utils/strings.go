package utils

import "fmt"

func TruncateString(s string, max int) string {
	if max < 3 {
		max = 3
	}
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func MaskSensitive(value string, showChars int) string {
	if value == "" {
		return ""
	}
	if showChars < 0 {
		showChars = 0
	}
	if len(value) <= showChars {
		return "****"
	}
	return value[:showChars] + "****"
}

// FormatBytes renders n with binary units, e.g. "1.50 KiB".
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
