package api

import (
	"net/http"
	"time"

	"github.com/c2h5ohfu/AetherCell/internal/log"
)

// loggingWriter wraps http.ResponseWriter to capture status and size for
// the request log.
type loggingWriter struct {
	w            http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (lw *loggingWriter) Header() http.Header {
	return lw.w.Header()
}

func (lw *loggingWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.w.WriteHeader(code)
}

func (lw *loggingWriter) Write(b []byte) (int, error) {
	if lw.statusCode == 0 {
		lw.statusCode = http.StatusOK
	}
	n, err := lw.w.Write(b)
	lw.bytesWritten += int64(n)
	return n, err
}

// requestLogger emits one structured log line per request.
func requestLogger(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lw := &loggingWriter{w: w}
			start := time.Now()
			next.ServeHTTP(lw, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", lw.statusCode,
				"bytes", lw.bytesWritten,
				"duration", time.Since(start))
		})
	}
}

// uploaderID extracts the caller identity. Authentication happens
// upstream; the header value is treated as opaque.
func uploaderID(r *http.Request) string {
	if id := r.Header.Get("X-Uploader-ID"); id != "" {
		return id
	}
	return "anonymous"
}
