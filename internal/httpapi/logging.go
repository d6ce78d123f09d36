package httpapi

import (
	"expvar"
	"log"
	"net/http"
	"time"
)

var (
	requestsTotal  = expvar.NewInt("requests_total")
	requestsErrors = expvar.NewInt("requests_errors_total")
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		requestsTotal.Add(1)
		if recorder.status >= http.StatusBadRequest {
			requestsErrors.Add(1)
		}
		log.Printf("request method=%s path=%s status=%d duration_ms=%d",
			r.Method, r.URL.Path, recorder.status, time.Since(start).Milliseconds())
	})
}
