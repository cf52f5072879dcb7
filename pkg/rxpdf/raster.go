package rxpdf

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"
	"unicode/utf8"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	// RasterWidth is the pixel width of the rendered section.
	RasterWidth = 1240
	margin      = 80
	lineSpacing = 1.35
)

type fontSet struct {
	regular *opentype.Font
	bold    *opentype.Font
}

var loadFonts = sync.OnceValues(func() (fontSet, error) {
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return fontSet{}, fmt.Errorf("parse regular font: %w", err)
	}
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return fontSet{}, fmt.Errorf("parse bold font: %w", err)
	}
	return fontSet{regular: regular, bold: bold}, nil
})

type faceKey struct {
	size float64
	bold bool
}

// rasterizer caches faces for a single Rasterize call; faces are not safe
// for concurrent use.
type rasterizer struct {
	fonts fontSet
	faces map[faceKey]font.Face
	width int
}

func (r *rasterizer) face(size float64, bold bool) (font.Face, error) {
	k := faceKey{size, bold}
	if f, ok := r.faces[k]; ok {
		return f, nil
	}
	src := r.fonts.regular
	if bold {
		src = r.fonts.bold
	}
	f, err := opentype.NewFace(src, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, fmt.Errorf("font face %.0fpt: %w", size, err)
	}
	r.faces[k] = f
	return f, nil
}

func (r *rasterizer) close() {
	for _, f := range r.faces {
		_ = f.Close()
	}
}

// placed is a block resolved to concrete lines or a scaled image.
type placed struct {
	block  Block
	face   font.Face
	lines  []string
	lineH  int
	img    image.Rectangle
	height int
}

// Rasterize draws blocks top to bottom onto one white RGBA image of the
// given width. The image is as tall as the content plus margins.
func Rasterize(blocks []Block, width int) (*image.RGBA, error) {
	if width <= 2*margin {
		return nil, fmt.Errorf("raster width %d too small", width)
	}
	fonts, err := loadFonts()
	if err != nil {
		return nil, err
	}
	r := &rasterizer{fonts: fonts, faces: make(map[faceKey]font.Face), width: width}
	defer r.close()

	content := width - 2*margin
	items := make([]placed, 0, len(blocks))
	total := 2 * margin
	for _, b := range blocks {
		p := placed{block: b}
		switch b.Kind {
		case BlockText:
			p.face, err = r.face(b.Size, b.Bold)
			if err != nil {
				return nil, err
			}
			p.lines = wrap(p.face, b.Text, content)
			p.lineH = int(float64(p.face.Metrics().Height.Ceil()) * lineSpacing)
			p.height = p.lineH * len(p.lines)
		case BlockImage:
			if b.Image == nil {
				continue
			}
			p.img = fit(b.Image.Bounds(), content, b.Height)
			p.height = p.img.Dy()
		case BlockRule, BlockSpace:
			p.height = b.Height
		}
		items = append(items, p)
		total += p.height
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, total))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)

	y := margin
	for _, p := range items {
		switch p.block.Kind {
		case BlockText:
			asc := p.face.Metrics().Ascent.Ceil()
			for i, line := range p.lines {
				x := margin
				if p.block.Align == AlignCenter {
					x = (width - font.MeasureString(p.face, line).Ceil()) / 2
				}
				d := font.Drawer{
					Dst:  dst,
					Src:  image.NewUniform(p.block.Color),
					Face: p.face,
					Dot:  fixed.P(x, y+i*p.lineH+asc),
				}
				d.DrawString(line)
			}
		case BlockImage:
			x := margin
			if p.block.Align == AlignCenter {
				x = (width - p.img.Dx()) / 2
			}
			rect := p.img.Add(image.Pt(x, y))
			xdraw.CatmullRom.Scale(dst, rect, p.block.Image, p.block.Image.Bounds(), xdraw.Over, nil)
		case BlockRule:
			c := p.block.Color
			if c == (color.RGBA{}) {
				c = navy
			}
			draw.Draw(dst, image.Rect(margin, y, width-margin, y+p.height), image.NewUniform(c), image.Point{}, draw.Src)
		}
		y += p.height
	}
	return dst, nil
}

// fit scales src down to maxW keeping its aspect ratio, and further to
// maxH when maxH is positive. Images are never scaled up.
func fit(src image.Rectangle, maxW, maxH int) image.Rectangle {
	w, h := src.Dx(), src.Dy()
	if w <= 0 || h <= 0 {
		return image.Rectangle{}
	}
	if w > maxW {
		h = h * maxW / w
		w = maxW
	}
	if maxH > 0 && h > maxH {
		w = w * maxH / h
		h = maxH
	}
	return image.Rect(0, 0, max(w, 1), max(h, 1))
}

// wrap breaks s into lines no wider than width. Explicit newlines are kept
// and words longer than a line are split by rune.
func wrap(face font.Face, s string, width int) []string {
	limit := fixed.I(width)
	var lines []string
	for _, para := range strings.Split(s, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		line := ""
		for _, w := range words {
			candidate := w
			if line != "" {
				candidate = line + " " + w
			}
			if font.MeasureString(face, candidate) <= limit {
				line = candidate
				continue
			}
			if line != "" {
				lines = append(lines, line)
				line = ""
			}
			for font.MeasureString(face, w) > limit {
				cut := splitAt(face, w, limit)
				lines = append(lines, w[:cut])
				w = w[cut:]
			}
			line = w
		}
		lines = append(lines, line)
	}
	return lines
}

// splitAt returns the largest byte offset at a rune boundary whose prefix
// fits in limit, and at least one rune.
func splitAt(face font.Face, w string, limit fixed.Int26_6) int {
	cut := 0
	for cut < len(w) {
		_, size := utf8.DecodeRuneInString(w[cut:])
		if cut > 0 && font.MeasureString(face, w[:cut+size]) > limit {
			break
		}
		cut += size
	}
	return cut
}
