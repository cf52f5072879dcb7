// Package rxpdf assembles a downloadable prescription document: a rendered
// letterhead, doctor and patient details and every entry with its inline
// images, followed by any attached PDF documents.
package rxpdf

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var months = [12]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// FormatSlotDate expands a compact D_M_YYYY slot key to "DD Mon YYYY".
// Anything that is not a compact key, including an already formatted
// date, is returned unchanged, so the function is idempotent.
func FormatSlotDate(s string) string {
	parts, ok := splitSlotKey(s)
	if !ok {
		return s
	}
	month := parts[1]
	if n, _ := strconv.Atoi(parts[1]); n >= 1 && n <= 12 {
		month = months[n-1]
	}
	return fmt.Sprintf("%s %s %s", pad2(parts[0]), month, parts[2])
}

// splitSlotKey returns day, month and year when s is "_" separated numbers.
func splitSlotKey(s string) ([3]string, bool) {
	var out [3]string
	if strings.ContainsAny(s, " \t") || !strings.Contains(s, "_") {
		return out, false
	}
	parts := strings.Split(strings.TrimSpace(s), "_")
	if len(parts) != 3 {
		return out, false
	}
	for i, p := range parts {
		if p == "" || strings.Trim(p, "0123456789") != "" {
			return out, false
		}
		out[i] = p
	}
	return out, true
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

var unsafeDate = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// FilenameDate returns YYYY-MM-DD for a compact key or a "DD Mon YYYY"
// date, and a sanitized form of the display date otherwise.
func FilenameDate(s string) string {
	if parts, ok := splitSlotKey(s); ok {
		month, _ := strconv.Atoi(parts[1])
		if month < 1 || month > 12 {
			month = 1
		}
		return fmt.Sprintf("%s-%02d-%s", parts[2], month, pad2(parts[0]))
	}
	display := strings.TrimSpace(s)
	for _, layout := range []string{"02 Jan 2006", "2 Jan 2006", "2006-01-02"} {
		if t, err := time.Parse(layout, display); err == nil {
			return t.Format("2006-01-02")
		}
	}
	out := unsafeDate.ReplaceAllString(strings.Join(strings.Fields(display), "_"), "")
	if out == "" {
		return "date"
	}
	return out
}
