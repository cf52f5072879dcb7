package rxpdf

import (
	"net/url"
	"regexp"
	"strings"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Filename builds Prescription_<Doctor>_<date>.pdf from display values.
func Filename(doctorName, slotDate string) string {
	doc := strings.Join(strings.Fields(doctorName), "_")
	doc = unsafeName.ReplaceAllString(doc, "")
	if doc == "" {
		doc = "Doctor"
	}
	return "Prescription_" + doc + "_" + FilenameDate(slotDate) + ".pdf"
}

// IsDocument reports whether ref points at a PDF, judged by the suffix of
// its path with any query or fragment removed.
func IsDocument(ref string) bool {
	path := ref
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		path = u.Path
	} else if i := strings.IndexAny(ref, "?#"); i >= 0 {
		path = ref[:i]
	}
	return strings.HasSuffix(strings.ToLower(path), ".pdf")
}
