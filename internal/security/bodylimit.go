package security

import (
	"bytes"
	"errors"
	"io"
	"net/http"
)

// BodyLimit caps inbound payload size. The payload is buffered and handed
// back to the request, so downstream consumers that need the raw bytes, such
// as webhook signature verification, still see all of it.
type BodyLimit struct {
	Max int64
}

// Middleware rejects payloads above Max with HTTP 413. An oversized declared
// Content-Length is rejected up front without reading the body.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.Max <= 0 || r.Body == nil {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > b.Max {
			http.Error(w, "request entity too large", http.StatusRequestEntityTooLarge)
			return
		}

		buf, err := io.ReadAll(http.MaxBytesReader(w, r.Body, b.Max))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "request entity too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(buf))
		r.ContentLength = int64(len(buf))
		next.ServeHTTP(w, r)
	})
}
