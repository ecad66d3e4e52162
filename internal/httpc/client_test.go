package httpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostSendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", r.Header.Get("Content-Type"))
		w.Write(data)
	}))
	defer srv.Close()

	resp, err := Post(context.Background(), srv.URL, "text/plain", []byte("hello"))
	require.NoError(t, err)
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
}

func TestDoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"session: not found"}`))
			return
		}
		var in map[string]string
		json.NewDecoder(r.Body).Decode(&in)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "abc", "form_id": in["form_id"]})
	}))
	defer srv.Close()

	var out map[string]string
	err := DoJSON(context.Background(), http.MethodPost, srv.URL+"/api/sessions", map[string]string{"form_id": "w9"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "abc", out["id"])
	assert.Equal(t, "w9", out["form_id"])

	err = DoJSON(context.Background(), http.MethodGet, srv.URL+"/missing", nil, &out)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Contains(t, se.Body, "not found")
}

func TestGetHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Get(ctx, "http://127.0.0.1:1/")
	assert.ErrorIs(t, err, context.Canceled)
}
