// Package storage keeps prescription attachments on local disk and serves
// them back under /uploads/.
package storage

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carebridge/carebridge/internal/domain/appointment"
)

// URLPrefix is the path attachments are served under.
const URLPrefix = "/uploads/"

var allowedExt = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".pdf": true,
}

// LocalStorage writes attachments below basePath.
type LocalStorage struct {
	basePath string
	baseURL  string
	maxBytes int64
	now      func() time.Time
	logger   *zap.Logger
}

// NewLocalStorage stores files under basePath and returns URLs rooted at
// baseURL. An empty baseURL yields host-relative URLs.
func NewLocalStorage(basePath, baseURL string, maxBytes int64, logger *zap.Logger) *LocalStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalStorage{
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
		now:      time.Now,
		logger:   logger,
	}
}

// Put writes up and returns its public URL.
func (l *LocalStorage) Put(ctx context.Context, up appointment.Upload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(up.Data) == 0 {
		return "", fmt.Errorf("%w: %q", appointment.ErrEmptyAttachment, up.Filename)
	}
	if l.maxBytes > 0 && int64(len(up.Data)) > l.maxBytes {
		return "", fmt.Errorf("%w: %q is over %d bytes", appointment.ErrAttachmentTooLarge, up.Filename, l.maxBytes)
	}

	ext := strings.ToLower(filepath.Ext(up.Filename))
	if ext == "" {
		ext = extFromContentType(up.ContentType)
	}
	if !allowedExt[ext] {
		return "", fmt.Errorf("%w: %q has type %q", appointment.ErrUnsupportedAttachment, up.Filename, ext)
	}

	if err := os.MkdirAll(l.basePath, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	name := fmt.Sprintf("%d_%s%s", l.now().Unix(), strings.ReplaceAll(uuid.NewString(), "-", "")[:16], ext)
	if err := os.WriteFile(filepath.Join(l.basePath, name), up.Data, 0o644); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}

	l.logger.Debug("attachment stored", zap.String("name", name), zap.Int("bytes", len(up.Data)))
	return l.baseURL + URLPrefix + name, nil
}

// Handler serves stored files. Mount it at URLPrefix.
func (l *LocalStorage) Handler() http.Handler {
	return http.StripPrefix(URLPrefix, http.FileServer(noDirFS{http.Dir(l.basePath)}))
}

func extFromContentType(ct string) string {
	switch strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0])) {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	}
	return ""
}

// noDirFS hides directory listings.
type noDirFS struct{ fs http.FileSystem }

func (n noDirFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	if st, err := f.Stat(); err == nil && st.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
