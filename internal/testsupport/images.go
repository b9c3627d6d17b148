package testsupport

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// PNG renders a small gradient image.
func PNG(t testing.TB, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8((x * 255) / width), uint8((y * 255) / height), 96, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// ImageServer serves a PNG for any path except those starting with /missing
// (404) or /garbage (non-image bytes). It records request counts per path.
type ImageServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests map[string]int
}

// NewImageServer starts an ImageServer closed on test cleanup.
func NewImageServer(t testing.TB) *ImageServer {
	t.Helper()

	payload := PNG(t, 32, 24)
	s := &ImageServer{requests: map[string]int{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[r.URL.Path]++
		s.mu.Unlock()

		switch {
		case strings.HasPrefix(r.URL.Path, "/missing"):
			http.NotFound(w, r)
		case strings.HasPrefix(r.URL.Path, "/garbage"):
			_, _ = w.Write([]byte("definitely not an image"))
		default:
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(payload)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

// Requests returns how many times path was fetched.
func (s *ImageServer) Requests(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}
