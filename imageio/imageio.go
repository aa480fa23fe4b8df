// Package imageio handles image artifacts on the boundary of the
// engine: decoding and validating inputs, and persisting result
// downloads under a dated output tree.
package imageio

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/veldt/outpaint"
	"github.com/veldt/outpaint/id"
)

// targetHeight is the canvas height the remote editor renders at.
// Inputs that need more than maxUpscale to reach it are rejected.
const (
	targetHeight = 1080
	maxUpscale   = 3.0
)

// Store persists image artifacts under a root directory, one
// subdirectory per day.
type Store struct {
	root   string
	httpc  *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithHTTPClient overrides the HTTP client used for result downloads.
func WithHTTPClient(c *http.Client) StoreOption {
	return func(s *Store) { s.httpc = c }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string, logger *slog.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		root:   dir,
		httpc:  &http.Client{Timeout: 60 * time.Second},
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DatedDir returns today's output directory, creating it if needed.
func (s *Store) DatedDir() (string, error) {
	dir := filepath.Join(s.root, s.now().Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return dir, nil
}

// SaveBase64 decodes a base64 image payload and writes it into today's
// directory under a fresh request-scoped name. A payload that is not
// valid base64 or not a decodable image fails with the bad-input code.
func (s *Store) SaveBase64(data string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", outpaint.Errorf(outpaint.CodeBadInput, "decode base64 image: %v", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return "", outpaint.Errorf(outpaint.CodeBadInput, "decode image: %v", err)
	}
	if err := CheckScale(cfg.Height); err != nil {
		return "", err
	}

	dir, err := s.DatedDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s.%s", id.NewRequestID(), format))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return path, nil
}

// ValidatePath checks that the file exists, decodes as an image, and
// fits the editor's upscale limit.
func ValidatePath(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return outpaint.Errorf(outpaint.CodeBadInput, "open image %s: %v", path, err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return outpaint.Errorf(outpaint.CodeBadInput, "decode image %s: %v", path, err)
	}
	return CheckScale(cfg.Height)
}

// CheckScale rejects images too small for the editor canvas. Scaling
// the input to the canvas height must not exceed the upscale limit.
func CheckScale(height int) error {
	if height <= 0 {
		return outpaint.Errorf(outpaint.CodeBadInput, "invalid image height %d", height)
	}
	if scale := float64(targetHeight) / float64(height); scale > maxUpscale {
		return outpaint.Errorf(outpaint.CodeBadInput,
			"image height %d needs %.1fx upscale, limit is %.0fx", height, scale, maxUpscale)
	}
	return nil
}

// Download fetches each result URL into today's directory and returns
// the saved paths in input order. Any failed fetch fails the whole
// batch with the result-retrieval code.
func (s *Store) Download(ctx context.Context, base string, urls []string) ([]string, error) {
	dir, err := s.DatedDir()
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(urls))
	for i, u := range urls {
		path := filepath.Join(dir, fmt.Sprintf("%s_%d.png", base, i))
		if err := s.fetch(ctx, u, path); err != nil {
			return nil, outpaint.Errorf(outpaint.CodeResultRetrieval, "download result %d: %v", i, err)
		}
		s.logger.Debug("result saved",
			slog.String("url", u),
			slog.String("path", path),
		)
		paths = append(paths, path)
	}
	return paths, nil
}

func (s *Store) fetch(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d from %s", resp.StatusCode, url)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return err
	}
	return nil
}
