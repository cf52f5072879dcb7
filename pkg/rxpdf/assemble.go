package rxpdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"sync"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

// MaxImagePixels bounds the decoded size of a single attachment image.
const MaxImagePixels = 40_000_000

// ErrImageTooLarge is returned for images whose header declares more than
// MaxImagePixels pixels.
var ErrImageTooLarge = errors.New("image dimensions exceed the pixel budget")

var disableConfigDir sync.Once

func pdfConfig() *model.Configuration {
	disableConfigDir.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Result is an assembled document.
type Result struct {
	PDF      []byte
	Filename string
	Pages    int
	// Failures lists attachments that were skipped.
	Failures []FetchFailure
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithFetchTimeout bounds each attachment download.
func WithFetchTimeout(d time.Duration) Option {
	return func(a *Assembler) { a.timeout = d }
}

// WithConcurrency caps parallel attachment downloads.
func WithConcurrency(n int) Option {
	return func(a *Assembler) { a.concurrency = n }
}

// WithWidth sets the raster width in pixels.
func WithWidth(px int) Option {
	return func(a *Assembler) { a.width = px }
}

// Assembler renders prescriptions into a single PDF.
type Assembler struct {
	fetcher     Fetcher
	logger      *zap.Logger
	timeout     time.Duration
	concurrency int
	width       int
}

// NewAssembler creates an assembler. A nil fetcher uses an HTTPFetcher
// with default settings.
func NewAssembler(fetcher Fetcher, logger *zap.Logger, opts ...Option) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fetcher == nil {
		fetcher = NewHTTPFetcher(nil, nil, 0, logger)
	}
	a := &Assembler{
		fetcher:     fetcher,
		logger:      logger,
		timeout:     DefaultFetchTimeout,
		concurrency: 4,
		width:       RasterWidth,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble renders in and appends its document attachments. Attachment
// failures are reported in Result.Failures; only a failure to produce the
// rendered section itself is an error.
func (a *Assembler) Assemble(ctx context.Context, in Input) (*Result, error) {
	refs := attachmentRefs(in.Entries)
	fetched, failures := a.fetchAll(ctx, refs)

	images := make(map[string]image.Image, len(in.Images)+len(refs))
	for k, v := range in.Images {
		images[k] = v
	}
	var docs []string
	for _, ref := range refs {
		body, ok := fetched[ref]
		if !ok {
			continue
		}
		if IsDocument(ref) {
			docs = append(docs, ref)
			continue
		}
		img, err := decodeImage(body)
		if err != nil {
			failures = append(failures, a.skip(ref, err))
			continue
		}
		images[ref] = img
	}
	in.Images = images

	raster, err := Rasterize(Layout(in), a.width)
	if err != nil {
		return nil, fmt.Errorf("rasterize: %w", err)
	}
	section, err := renderPages(raster, PageHeightFor(a.width))
	if err != nil {
		return nil, fmt.Errorf("render pages: %w", err)
	}

	parts := []io.ReadSeeker{bytes.NewReader(section)}
	for _, ref := range docs {
		body := fetched[ref]
		if err := api.Validate(bytes.NewReader(body), pdfConfig()); err != nil {
			failures = append(failures, a.skip(ref, fmt.Errorf("unreadable document: %w", err)))
			continue
		}
		parts = append(parts, bytes.NewReader(body))
	}

	out := section
	if len(parts) > 1 {
		var buf bytes.Buffer
		if err := api.MergeRaw(parts, &buf, false, pdfConfig()); err != nil {
			return nil, fmt.Errorf("merge documents: %w", err)
		}
		out = buf.Bytes()
	}

	pages, err := api.PageCount(bytes.NewReader(out), pdfConfig())
	if err != nil {
		return nil, fmt.Errorf("count pages: %w", err)
	}

	a.logger.Info("prescription assembled",
		zap.Int("entries", len(in.Entries)),
		zap.Int("pages", pages),
		zap.Int("documents", len(parts)-1),
		zap.Int("skipped", len(failures)))

	return &Result{
		PDF:      out,
		Filename: Filename(in.Doctor.Name, in.SlotDate),
		Pages:    pages,
		Failures: failures,
	}, nil
}

// decodeImage reads the header first so oversized images are rejected
// before any pixel buffer is allocated.
func decodeImage(body []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func (a *Assembler) skip(ref string, err error) FetchFailure {
	a.logger.Warn("skipping attachment", zap.String("url", ref), zap.Error(err))
	return FetchFailure{URL: ref, Err: err}
}

// attachmentRefs returns every attachment in entry order, first occurrence
// only.
func attachmentRefs(entries []Entry) []string {
	seen := make(map[string]bool)
	var refs []string
	for _, e := range entries {
		for _, ref := range e.Attachments {
			if ref == "" || seen[ref] {
				continue
			}
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	return refs
}

func (a *Assembler) fetchAll(ctx context.Context, refs []string) (map[string][]byte, []FetchFailure) {
	bodies := make([][]byte, len(refs))
	errs := make([]error, len(refs))

	var g errgroup.Group
	g.SetLimit(max(a.concurrency, 1))
	for i, ref := range refs {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			bodies[i], errs[i] = a.fetcher.Fetch(fctx, ref)
			if errs[i] == nil && len(bodies[i]) == 0 {
				errs[i] = errors.New("empty attachment")
			}
			return nil
		})
	}
	_ = g.Wait()

	fetched := make(map[string][]byte, len(refs))
	var failures []FetchFailure
	for i, ref := range refs {
		if errs[i] != nil {
			failures = append(failures, a.skip(ref, errs[i]))
			continue
		}
		fetched[ref] = bodies[i]
	}
	return fetched, failures
}

// renderPages slices raster into A4 pages and writes them as a PDF. Each
// page image spans the full page; the last one is padded with white.
func renderPages(raster *image.RGBA, pageHeight int) ([]byte, error) {
	width := raster.Bounds().Dx()
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCreator("CareBridge", true)

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	for i, p := range Paginate(raster.Bounds().Dy(), pageHeight) {
		page := image.NewRGBA(image.Rect(0, 0, width, pageHeight))
		draw.Draw(page, page.Bounds(), image.White, image.Point{}, draw.Src)
		draw.Draw(page, image.Rect(0, 0, width, p.Height()), raster, image.Pt(0, p.Start), draw.Src)

		var buf bytes.Buffer
		if err := png.Encode(&buf, page); err != nil {
			return nil, fmt.Errorf("encode page %d: %w", i+1, err)
		}
		name := fmt.Sprintf("page-%d", i+1)
		pdf.AddPage()
		pdf.RegisterImageOptionsReader(name, opts, &buf)
		pdf.ImageOptions(name, 0, 0, PageWidthPt, PageHeightPt, false, opts, 0, "")
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
