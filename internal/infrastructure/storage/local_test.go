package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/carebridge/internal/domain/appointment"
)

func TestPutWritesFileAndReturnsURL(t *testing.T) {
	dir := t.TempDir()
	s := NewLocalStorage(dir, "https://clinic.example/", 1<<20, nil)
	s.now = func() time.Time { return time.Unix(1772704800, 0) }

	url, err := s.Put(context.Background(), appointment.Upload{Filename: "Rash.PNG", Data: []byte("png-bytes")})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(url, "https://clinic.example/uploads/1772704800_"), url)
	assert.True(t, strings.HasSuffix(url, ".png"), url)

	name := strings.TrimPrefix(url, "https://clinic.example/uploads/")
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
}

func TestPutUsesContentTypeWhenNameHasNoExtension(t *testing.T) {
	s := NewLocalStorage(t.TempDir(), "", 0, nil)

	url, err := s.Put(context.Background(), appointment.Upload{Filename: "blob", ContentType: "application/pdf", Data: []byte("%PDF")})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/uploads/"))
	assert.True(t, strings.HasSuffix(url, ".pdf"))
}

func TestPutRejects(t *testing.T) {
	s := NewLocalStorage(t.TempDir(), "", 4, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		up   appointment.Upload
		want error
	}{
		{name: "empty", up: appointment.Upload{Filename: "a.png"}, want: appointment.ErrEmptyAttachment},
		{name: "too large", up: appointment.Upload{Filename: "a.png", Data: []byte("12345")}, want: appointment.ErrAttachmentTooLarge},
		{name: "unsupported", up: appointment.Upload{Filename: "a.exe", Data: []byte("MZ")}, want: appointment.ErrUnsupportedAttachment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Put(ctx, tt.up)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHandlerServesStoredFiles(t *testing.T) {
	s := NewLocalStorage(t.TempDir(), "", 0, nil)
	url, err := s.Put(context.Background(), appointment.Upload{Filename: "scan.jpg", Data: []byte("jpeg")})
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle(URLPrefix, s.Handler())
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "jpeg", string(body))

	dirResp, err := http.Get(srv.URL + URLPrefix)
	require.NoError(t, err)
	dirResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, dirResp.StatusCode)
}
