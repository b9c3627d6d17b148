package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/disintegration/imaging"

	"imgbatch/internal/config"
	"imgbatch/internal/logging"
)

// Adapter downloads a source image and re-encodes it as JPEG at a fixed
// quality. It holds no per-call state and is safe for concurrent use.
type Adapter struct {
	client    *http.Client
	quality   int
	maxBytes  int64
	userAgent string
	logger    *slog.Logger
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithHTTPClient replaces the HTTP client used for downloads.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Adapter) {
		if client != nil {
			a.client = client
		}
	}
}

// WithLogger attaches a logger for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logging.NewComponentLogger(logger, "transform")
		}
	}
}

// New builds an adapter from transform settings.
func New(cfg config.Transform, opts ...Option) *Adapter {
	a := &Adapter{
		client:    &http.Client{Timeout: time.Duration(cfg.FetchTimeoutSeconds) * time.Second},
		quality:   cfg.JPEGQuality,
		maxBytes:  cfg.MaxImageBytes,
		userAgent: cfg.UserAgent,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Transform fetches url and returns the recompressed JPEG bytes. It never
// retries.
func (a *Adapter) Transform(ctx context.Context, url string) ([]byte, error) {
	raw, err := a.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &DecodeError{URL: url, Err: err}
	}

	var out bytes.Buffer
	if err := imaging.Encode(&out, img, imaging.JPEG, imaging.JPEGQuality(a.quality)); err != nil {
		return nil, &DecodeError{URL: url, Err: fmt.Errorf("encode jpeg: %w", err)}
	}

	a.logger.Debug("image recompressed",
		logging.String(logging.FieldURL, url),
		logging.Int("input_bytes", len(raw)),
		logging.Int("output_bytes", out.Len()),
	)
	return out.Bytes(), nil
}

func (a *Adapter) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	reader := resp.Body
	if a.maxBytes > 0 {
		reader = io.NopCloser(io.LimitReader(resp.Body, a.maxBytes+1))
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if a.maxBytes > 0 && int64(len(raw)) > a.maxBytes {
		return nil, &FetchError{URL: url, Err: errors.New("image exceeds size limit")}
	}
	return raw, nil
}
