package middleware

import (
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/friendlane/internal/logging"
)

const requestIDHeader = "X-Request-ID"

// Query parameters whose values carry user-entered text and are never logged.
var redactedQueryParams = []string{"q"}

type RequestLogger struct {
	logger *logging.Logger
}

func NewRequestLogger(logger *logging.Logger) *RequestLogger {
	return &RequestLogger{logger: logger}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Apply logs one entry per request. Client errors are logged at WARN and
// server errors at ERROR.
func (rl *RequestLogger) Apply(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		fields := map[string]interface{}{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"bytes":       rec.bytes,
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_ip":   GetClientIP(r),
		}
		if query, ok := redactQuery(r.URL.RawQuery); ok {
			fields["query"] = query
		}

		switch {
		case rec.status >= http.StatusInternalServerError:
			rl.logger.Error("Request failed", fields)
		case rec.status >= http.StatusBadRequest:
			rl.logger.Warn("Request rejected", fields)
		default:
			rl.logger.Info("Request completed", fields)
		}
	})
}

// redactQuery masks sensitive parameter values. Unparseable queries are
// dropped entirely.
func redactQuery(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return "", false
	}
	for _, name := range redactedQueryParams {
		if vs, ok := values[name]; ok {
			for i := range vs {
				vs[i] = "REDACTED"
			}
		}
	}
	return values.Encode(), true
}
