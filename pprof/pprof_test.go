package pprof

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerServesIndex(t *testing.T) {
	resp := httptest.NewRecorder()
	Handler().ServeHTTP(resp, httptest.NewRequest("GET", "/debug/pprof/", nil))
	require.Equal(t, 200, resp.Code)
	require.Contains(t, resp.Body.String(), "goroutine")
}
