package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionExpired(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		msg     string
		expired bool
	}{
		{"token code", `"100001"`, "", true},
		{"uid code", `"100002"`, "", true},
		{"message only", `"0"`, "Please log in again.", true},
		{"message case", `"0"`, "PLEASE LOG IN", true},
		{"healthy", `"0"`, "success", false},
		{"other error", `"100005"`, "invalid argument", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var env semsEnvelope
			require.NoError(t, json.Unmarshal([]byte(`{"code":`+tt.code+`,"msg":"`+tt.msg+`"}`), &env))
			assert.Equal(t, tt.expired, sessionExpired(env))
		})
	}
}

// newPortalSEMS builds a client pointed at a stub portal with a valid session.
func newPortalSEMS(t *testing.T, handler http.Handler) *SEMS {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	origURLs := crossLoginURLs
	crossLoginURLs = []string{srv.URL + "/api/v1/Common/CrossLogin"}
	t.Cleanup(func() { crossLoginURLs = origURLs })

	s := NewSEMS("user@example.com", "secret")
	s.auth = &semsAuth{UID: "stale-uid", Token: "stale-token"}
	s.baseURL = srv.URL + "/"
	return s
}

func TestPostReloginReplay(t *testing.T) {
	var dataCalls, loginCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/Common/CrossLogin", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&loginCalls, 1)
		base := "http://" + r.Host + "/"
		json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"api":  base,
			"data": map[string]any{"uid": "fresh-uid", "token": "fresh-token", "timestamp": 1},
		})
	})
	mux.HandleFunc("/v2/PowerStation/GetPowerflow", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&dataCalls, 1)
		if n == 1 {
			json.NewEncoder(w).Encode(map[string]any{"code": 0, "msg": "please log in again"})
			return
		}
		var token struct {
			UID string `json:"uid"`
		}
		// assert, not require: this runs on the server goroutine.
		if assert.NoError(t, json.Unmarshal([]byte(r.Header.Get("Token")), &token)) {
			assert.Equal(t, "fresh-uid", token.UID, "replay must carry the refreshed session")
		}
		json.NewEncoder(w).Encode(map[string]any{"code": 0, "msg": "success", "data": map[string]any{"soc": 80}})
	})

	s := newPortalSEMS(t, mux)
	raw, err := s.GetPowerflow(context.Background(), "plant-1")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"soc"`)
	assert.EqualValues(t, 2, atomic.LoadInt32(&dataCalls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&loginCalls))
}

func TestPostSessionRejectedAfterRelogin(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/Common/CrossLogin", func(w http.ResponseWriter, r *http.Request) {
		base := "http://" + r.Host + "/"
		json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"api":  base,
			"data": map[string]any{"uid": "u", "token": "t", "timestamp": 1},
		})
	})
	mux.HandleFunc("/v2/PowerStation/GetPowerflow", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 100001, "msg": "please log in again"})
	})

	s := newPortalSEMS(t, mux)
	_, err := s.GetPowerflow(context.Background(), "plant-1")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "after relogin"), err.Error())
}
