package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	client := NewClient("http://localhost:8080", "key")
	assert.NotNil(t, client)
	assert.Equal(t, "http://localhost:8080", client.baseURL)
	assert.Equal(t, "key", client.apiKey)
	assert.NotNil(t, client.httpClient)
	assert.Equal(t, 30*time.Second, client.httpClient.Timeout)
}

func TestClient_Get(t *testing.T) {
	tests := []struct {
		name       string
		handler    func(w http.ResponseWriter, r *http.Request)
		result     interface{}
		wantErr    bool
		errMessage string
	}{
		{
			name: "successful GET unwraps envelope",
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "application/json", r.Header.Get("Accept"))
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"success":       true,
					"data":          map[string]string{"status": "ok"},
					"correlationId": "abc",
				})
			},
			result:  &map[string]string{},
			wantErr: false,
		},
		{
			name: "envelope error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"success": false,
					"error":   map[string]string{"code": "NotFound", "message": "location not found"},
				})
			},
			result:     &map[string]string{},
			wantErr:    true,
			errMessage: "location not found",
		},
		{
			name: "non-envelope body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("internal error"))
			},
			result:     &map[string]string{},
			wantErr:    true,
			errMessage: "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(tt.handler))
			defer server.Close()

			client := NewClient(server.URL, "")
			err := client.Get("/test", tt.result)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMessage)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestClient_Post(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))

		var received map[string]string
		_ = json.NewDecoder(r.Body).Decode(&received)
		assert.Equal(t, "value", received["key"])

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    map[string]string{"id": "123"},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret")
	var result map[string]string
	err := client.Post("/test", map[string]string{"key": "value"}, &result)

	require.NoError(t, err)
	assert.Equal(t, "123", result["id"])
}

func TestClient_DoWith(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "guid-1", r.Header.Get("x-player-guid"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	err := client.DoWith(http.MethodGet, "/test", nil, nil, func(r *http.Request) {
		r.Header.Set("x-player-guid", "guid-1")
	})
	require.NoError(t, err)
}

func TestClient_Download(t *testing.T) {
	payload := []byte{0x04, 0x22, 0x4d, 0x18, 0x01, 0x02}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	var buf bytes.Buffer
	err := client.Download("/snapshot", &buf)

	require.NoError(t, err)
	assert.Equal(t, payload, buf.Bytes())
}

func TestClient_Download_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   map[string]string{"code": "Unauthorized", "message": "invalid API key"},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "wrong")
	err := client.Download("/snapshot", io.Discard)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid API key")
}

func TestClient_Upload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, []byte("archive"), body)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    map[string]int{"locations": 2},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	var report map[string]int
	err := client.Upload("/snapshot", bytes.NewReader([]byte("archive")), &report)

	require.NoError(t, err)
	assert.Equal(t, 2, report["locations"])
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      Error
		expected string
	}{
		{
			name:     "with code",
			err:      Error{Message: "not found", Code: "NotFound"},
			expected: "not found (NotFound)",
		},
		{
			name:     "without code",
			err:      Error{Message: "something went wrong"},
			expected: "something went wrong",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}
