package observability

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// RequestLogger logs every request served by next.
func RequestLogger(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)

		event := logger.Debug()
		if rec.status >= 500 {
			event = logger.Error()
		} else if rec.status >= 400 {
			event = logger.Warn()
		}
		event.
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Str("remote", req.RemoteAddr).
			Int("bytes", rec.bytes).
			Msg("http_request")
	})
}

// MetricsMux serves /metrics and a plain /healthz.
func MetricsMux(logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	return RequestLogger(logger, mux)
}
