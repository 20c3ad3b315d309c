package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/siriushex/astral/cache"
	"github.com/stretchr/testify/require"
)

const testManifest = `#EXTM3U
#EXT-X-TARGETDURATION:2
#EXT-X-MEDIA-SEQUENCE:7
#EXTINF:2.000,
seg7.ts
#EXTINF:2.000,
seg8.ts
`

func idParam(id string) httprouter.Params {
	return httprouter.Params{{Key: "id", Value: id}}
}

func TestListStreams(t *testing.T) {
	handlers, _ := newTestHandlers(t)
	require.True(t, handlers.Cache.Touch("b"))
	require.NoError(t, handlers.Cache.PublishSegment("a", "seg1.ts", []byte("x")))

	resp := httptest.NewRecorder()
	handlers.ListStreams()(resp, httptest.NewRequest("GET", "/debug/streams", nil), nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var stats []cache.StreamStats
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &stats))
	require.Len(t, stats, 2)
	require.Equal(t, "a", stats[0].ID)
	require.Equal(t, []string{"seg1.ts"}, stats[0].Segments)
	require.Equal(t, "b", stats[1].ID)
}

func TestGetStreamReportsMissingSegments(t *testing.T) {
	handlers, _ := newTestHandlers(t)
	require.NoError(t, handlers.Cache.PublishManifest("ch1", []byte(testManifest)))
	require.NoError(t, handlers.Cache.PublishSegment("ch1", "seg7.ts", []byte("seven")))

	resp := httptest.NewRecorder()
	handlers.GetStream()(resp, httptest.NewRequest("GET", "/debug/streams/ch1", nil), idParam("ch1"))
	require.Equal(t, http.StatusOK, resp.Code)

	var detail StreamDetail
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &detail))
	require.Equal(t, "ch1", detail.ID)
	require.NotNil(t, detail.Manifest)
	require.Equal(t, uint64(7), detail.Manifest.MediaSequence)
	require.Equal(t, []string{"seg8.ts"}, detail.MissingSegments)
	require.Empty(t, detail.ManifestError)
}

func TestGetStreamWithUndecodableManifest(t *testing.T) {
	handlers, _ := newTestHandlers(t)
	require.NoError(t, handlers.Cache.PublishManifest("ch1", []byte("garbage")))

	resp := httptest.NewRecorder()
	handlers.GetStream()(resp, httptest.NewRequest("GET", "/debug/streams/ch1", nil), idParam("ch1"))
	require.Equal(t, http.StatusOK, resp.Code)

	var detail StreamDetail
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &detail))
	require.Nil(t, detail.Manifest)
	require.NotEmpty(t, detail.ManifestError)
}

func TestGetUnknownStream(t *testing.T) {
	handlers, _ := newTestHandlers(t)
	resp := httptest.NewRecorder()
	handlers.GetStream()(resp, httptest.NewRequest("GET", "/debug/streams/nope", nil), idParam("nope"))
	require.Equal(t, http.StatusNotFound, resp.Code)
	require.JSONEq(t, `{"error":"stream not found","error_detail":""}`, resp.Body.String())
}

func TestDeleteStream(t *testing.T) {
	handlers, _ := newTestHandlers(t)
	require.True(t, handlers.Cache.Touch("ch1"))

	resp := httptest.NewRecorder()
	handlers.DeleteStream()(resp, httptest.NewRequest("DELETE", "/debug/streams/ch1", nil), idParam("ch1"))
	require.Equal(t, http.StatusNoContent, resp.Code)
	require.Empty(t, handlers.Cache.StreamIDs())

	resp = httptest.NewRecorder()
	handlers.DeleteStream()(resp, httptest.NewRequest("DELETE", "/debug/streams/ch1", nil), idParam("ch1"))
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestSweepNow(t *testing.T) {
	handlers, clock := newTestHandlers(t)
	require.NoError(t, handlers.Cache.PublishSegment("ch1", "seg1.ts", []byte("abc")))
	clock.Advance(2 * time.Minute)

	resp := httptest.NewRecorder()
	handlers.Sweep()(resp, httptest.NewRequest("POST", "/debug/sweep", nil), nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"segments_evicted":1,"streams_evicted":1,"bytes_freed":3}`, resp.Body.String())
}
