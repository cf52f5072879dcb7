package rxpdf

import "math"

// A4 portrait in points.
const (
	PageWidthPt  = 595.28
	PageHeightPt = 841.89
)

// Page is a half-open row range [Start, End) of the raster.
type Page struct {
	Start int
	End   int
}

// Height returns the number of rows in p.
func (p Page) Height() int { return p.End - p.Start }

// PageHeightFor returns the raster rows that fill one A4 page at the given
// raster width.
func PageHeightFor(width int) int {
	return int(math.Round(float64(width) * PageHeightPt / PageWidthPt))
}

// Paginate splits total rows into consecutive pages of pageHeight rows. The
// pages cover [0, total) exactly once; the last page may be shorter. There
// is always at least one page.
func Paginate(total, pageHeight int) []Page {
	if total <= 0 {
		return []Page{{Start: 0, End: 0}}
	}
	if pageHeight <= 0 {
		return []Page{{Start: 0, End: total}}
	}
	pages := make([]Page, 0, (total+pageHeight-1)/pageHeight)
	for start := 0; start < total; start += pageHeight {
		pages = append(pages, Page{Start: start, End: min(start+pageHeight, total)})
	}
	return pages
}
