package transform

import (
	"errors"
	"fmt"
)

var (
	// ErrFetch matches any *FetchError.
	ErrFetch = errors.New("fetch failed")
	// ErrDecode matches any *DecodeError.
	ErrDecode = errors.New("decode failed")
)

// FetchError reports a network failure, timeout, oversized body or non-2xx
// response while downloading a source image.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// DecodeError reports bytes that are not a decodable image, or an image that
// cannot be re-encoded as JPEG.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }
