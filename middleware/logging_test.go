package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/siriushex/astral/metrics"
	"github.com/stretchr/testify/require"
)

func TestLogRequestCountsStatus(t *testing.T) {
	counter := metrics.Metrics.HTTPInternalRequestCount.WithLabelValues("/test/:id", "404")
	before := testutil.ToFloat64(counter)

	h := LogRequest("/test/:id")(func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusNotFound)
		w.WriteHeader(http.StatusOK)
	})
	resp := httptest.NewRecorder()
	h(resp, httptest.NewRequest("GET", "/test/1", nil), nil)

	require.Equal(t, http.StatusNotFound, resp.Code)
	require.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestLogRequestImplicitOK(t *testing.T) {
	counter := metrics.Metrics.HTTPInternalRequestCount.WithLabelValues("/implicit", "200")
	before := testutil.ToFloat64(counter)

	h := LogRequest("/implicit")(func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		_, _ = w.Write([]byte("fine"))
	})
	resp := httptest.NewRecorder()
	h(resp, httptest.NewRequest("GET", "/implicit", nil), nil)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestLogRequestRecoversPanics(t *testing.T) {
	counter := metrics.Metrics.HTTPInternalRequestCount.WithLabelValues("/panic", "500")
	before := testutil.ToFloat64(counter)

	h := LogRequest("/panic")(func(http.ResponseWriter, *http.Request, httprouter.Params) {
		panic("boom")
	})
	resp := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h(resp, httptest.NewRequest("GET", "/panic", nil), nil)
	})

	require.Equal(t, http.StatusInternalServerError, resp.Code)
	require.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestLogRequestEchoesRequestID(t *testing.T) {
	h := LogRequest("/echo")(func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {})

	req := httptest.NewRequest("GET", "/echo", nil)
	req.Header.Set("X-Request-ID", "req-1")
	resp := httptest.NewRecorder()
	h(resp, req, nil)
	require.Equal(t, "req-1", resp.Header().Get("X-Request-ID"))

	resp = httptest.NewRecorder()
	h(resp, httptest.NewRequest("GET", "/echo", nil), nil)
	require.NotEmpty(t, resp.Header().Get("X-Request-ID"))
}
