package middleware

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/siriushex/astral/errors"
	"github.com/siriushex/astral/log"
	"github.com/siriushex/astral/metrics"
	"github.com/siriushex/astral/requests"
)

type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}

	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
	rw.wroteHeader = true
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// LogRequest logs every request and counts it under route, which should be
// the router pattern rather than the raw path
func LogRequest(route string) func(httprouter.Handle) httprouter.Handle {
	return func(next httprouter.Handle) httprouter.Handle {
		fn := func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			start := time.Now()
			requestID := requests.GetRequestId(r)
			wrapped := wrapResponseWriter(w)
			wrapped.Header().Set("X-Request-ID", requestID)

			defer func() {
				if err := recover(); err != nil {
					errors.WriteHTTPInternalServerError(wrapped, "Internal Server Error", nil)
					log.WarnNoStreamID("panic serving internal request", "request_id", requestID, "err", err, "trace", string(debug.Stack()))
				}
				metrics.Metrics.HTTPInternalRequestCount.WithLabelValues(route, strconv.Itoa(wrapped.status)).Inc()
			}()

			next(wrapped, r, ps)
			log.LogNoStreamID("internal request",
				"request_id", requestID,
				"remote", r.RemoteAddr,
				"proto", r.Proto,
				"method", r.Method,
				"uri", r.URL.RequestURI(),
				"duration", time.Since(start),
				"status", wrapped.status,
			)
		}

		return fn
	}
}
