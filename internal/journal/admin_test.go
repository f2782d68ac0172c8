package journal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/colocate/internal/transport"
)

func localRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAdminRoutes(t *testing.T) {
	j := openTestJournal(t)
	mux := http.NewServeMux()
	j.AttachAdminRoutes(mux)

	// nothing recorded yet
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localRequest(http.MethodGet, "/debug/rounds.png"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	peer := transport.Peer{ID: transport.NewPeerID(), DisplayName: "bravo"}
	base := time.UnixMilli(1_700_000_000_000)
	for i := 1; i <= 3; i++ {
		require.NoError(t, j.RecordRound(context.Background(), testCorrespondence(i, base.Add(time.Duration(i)*time.Second), peer)))
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, localRequest(http.MethodGet, "/debug/rounds?limit=2"))
	require.Equal(t, http.StatusOK, w.Code)
	var rounds []Round
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rounds))
	require.Len(t, rounds, 2)
	assert.Equal(t, 3, rounds[0].Round)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, localRequest(http.MethodGet, "/debug/rounds.png"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "\x89PNG", w.Body.String()[:4])

	for _, path := range []string{"/debug/rounds?limit=0", "/debug/rounds?limit=x"} {
		w = httptest.NewRecorder()
		mux.ServeHTTP(w, localRequest(http.MethodGet, path))
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, localRequest(http.MethodPost, "/debug/rounds"))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
