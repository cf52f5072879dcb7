package rxpdf

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	mu    sync.Mutex
	files map[string][]byte
	calls []string
}

func (s *stubFetcher) Fetch(_ context.Context, ref string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, ref)
	if b, ok := s.files[ref]; ok {
		return b, nil
	}
	return nil, errors.New("connection refused")
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func pdfBytes(t *testing.T, pages int) []byte {
	t.Helper()
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetFont("Helvetica", "", 14)
	for i := 0; i < pages; i++ {
		doc.AddPage()
		doc.Cell(40, 10, "Lab report")
	}
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func textOnly() Input {
	return Input{
		Doctor:   Doctor{Name: "Dr. Richard James", Speciality: "Cardiologist"},
		Patient:  Patient{Name: "Avery Stone", Age: "36", Gender: "Female"},
		SlotDate: "05_03_2026",
		SlotTime: "10:30 AM",
		Entries:  []Entry{{Text: "Rest and fluids", CreatedAt: time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)}},
	}
}

func TestAssembleSingleTextEntry(t *testing.T) {
	f := &stubFetcher{}
	res, err := NewAssembler(f, nil).Assemble(context.Background(), textOnly())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Pages)
	assert.Empty(t, res.Failures)
	assert.Empty(t, f.calls)
	assert.Equal(t, "Prescription_Dr_Richard_James_2026-03-05.pdf", res.Filename)
	assert.True(t, bytes.HasPrefix(res.PDF, []byte("%PDF-")))
}

func TestAssembleAppendsDocumentsInEntryOrder(t *testing.T) {
	in := textOnly()
	in.Entries = append(in.Entries,
		Entry{Text: "See labs", Attachments: []string{"https://cdn/a.pdf", "https://cdn/scan.png"}},
		Entry{Text: "Follow-up", Attachments: []string{"https://cdn/b.PDF?sig=1", "https://cdn/a.pdf"}},
	)
	f := &stubFetcher{files: map[string][]byte{
		"https://cdn/a.pdf":       pdfBytes(t, 2),
		"https://cdn/b.PDF?sig=1": pdfBytes(t, 1),
		"https://cdn/scan.png":    pngBytes(t, 300, 200),
	}}

	res, err := NewAssembler(f, nil).Assemble(context.Background(), in)
	require.NoError(t, err)

	assert.Empty(t, res.Failures)
	assert.Equal(t, 1+2+1, res.Pages)
	assert.Len(t, f.calls, 3, "duplicate references are fetched once")
}

func TestAssembleSkipsFailedAttachments(t *testing.T) {
	in := textOnly()
	in.Entries = append(in.Entries, Entry{
		Text:        "Imaging",
		Attachments: []string{"https://down/x.png", "https://down/report.pdf", "https://cdn/ok.pdf", "https://cdn/broken.pdf", "https://cdn/garbage.jpg"},
	})
	f := &stubFetcher{files: map[string][]byte{
		"https://cdn/ok.pdf":      pdfBytes(t, 1),
		"https://cdn/broken.pdf":  []byte("%PDF-1.4 truncated"),
		"https://cdn/garbage.jpg": []byte("nope"),
	}}

	res, err := NewAssembler(f, nil).Assemble(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Pages)
	var failed []string
	for _, ff := range res.Failures {
		failed = append(failed, ff.URL)
		assert.Error(t, &ff)
	}
	assert.ElementsMatch(t, []string{
		"https://down/x.png",
		"https://down/report.pdf",
		"https://cdn/broken.pdf",
		"https://cdn/garbage.jpg",
	}, failed)
}

// pngHeader returns a PNG signature and IHDR chunk declaring w x h RGBA
// pixels with no image data behind it.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 0, 17)
	ihdr = append(ihdr, "IHDR"...)
	ihdr = binary.BigEndian.AppendUint32(ihdr, w)
	ihdr = binary.BigEndian.AppendUint32(ihdr, h)
	ihdr = append(ihdr, 8, 6, 0, 0, 0)

	out := []byte("\x89PNG\r\n\x1a\n")
	out = binary.BigEndian.AppendUint32(out, 13)
	out = append(out, ihdr...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(ihdr))
}

func TestDecodeImageRejectsOversizedHeader(t *testing.T) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(pngHeader(30000, 30000)))
	require.NoError(t, err)
	assert.Equal(t, 30000, cfg.Width)

	_, err = decodeImage(pngHeader(30000, 30000))
	assert.ErrorIs(t, err, ErrImageTooLarge)

	img, err := decodeImage(pngBytes(t, 20, 10))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 10), img.Bounds())
}

func TestAssembleSkipsOversizedImages(t *testing.T) {
	in := textOnly()
	in.Entries = append(in.Entries, Entry{
		Text:        "Scans",
		Attachments: []string{"https://cdn/huge.png", "https://cdn/ok.png"},
	})
	f := &stubFetcher{files: map[string][]byte{
		"https://cdn/huge.png": pngHeader(30000, 30000),
		"https://cdn/ok.png":   pngBytes(t, 120, 80),
	}}

	res, err := NewAssembler(f, nil).Assemble(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, "https://cdn/huge.png", res.Failures[0].URL)
	assert.ErrorIs(t, res.Failures[0].Err, ErrImageTooLarge)
	assert.True(t, bytes.HasPrefix(res.PDF, []byte("%PDF-")))
}

type slowFetcher struct{}

func (slowFetcher) Fetch(ctx context.Context, _ string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAssembleBoundsEachFetch(t *testing.T) {
	in := textOnly()
	in.Entries[0].Attachments = []string{"https://slow/a.png", "https://slow/b.pdf"}

	start := time.Now()
	res, err := NewAssembler(slowFetcher{}, nil, WithFetchTimeout(50*time.Millisecond)).Assemble(context.Background(), in)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, res.Failures, 2)
	assert.ErrorIs(t, &res.Failures[0], context.DeadlineExceeded)
	assert.Equal(t, 1, res.Pages)
}

func TestAssembleLongPrescriptionSpansPages(t *testing.T) {
	in := textOnly()
	for i := 0; i < 60; i++ {
		in.Entries = append(in.Entries, Entry{Text: "Take one tablet after meals and drink plenty of water"})
	}
	res, err := NewAssembler(&stubFetcher{}, nil).Assemble(context.Background(), in)
	require.NoError(t, err)
	assert.Greater(t, res.Pages, 1)
}
