package blob

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryUploadIsContentAddressed(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	a, err := m.Upload(ctx, []byte(`{"name":"Test"}`))
	require.NoError(t, err)
	b, err := m.Upload(ctx, []byte(`{"name":"Test"}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	data, err := m.Fetch(a)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Test"}`, string(data))

	_, err = m.Fetch("mem://nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryFailWith(t *testing.T) {
	m := NewMemory()
	boom := errors.New("disk full")
	m.FailWith(boom)

	_, err := m.Upload(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, boom)

	m.FailWith(nil)
	_, err = m.Upload(context.Background(), []byte("x"))
	assert.NoError(t, err)
}

func TestWalrusUpload(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantURI  string
	}{
		{
			name:     "newly created",
			response: `{"newlyCreated":{"blobObject":{"blobId":"abc123"}}}`,
			wantURI:  "https://aggregator.example/v1/blobs/abc123",
		},
		{
			name:     "already certified",
			response: `{"alreadyCertified":{"blobId":"def456"}}`,
			wantURI:  "https://aggregator.example/v1/blobs/def456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotBody, gotEpochs, gotMethod string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				gotBody = string(body)
				gotEpochs = r.URL.Query().Get("epochs")
				gotMethod = r.Method
				assert.Equal(t, "/v1/blobs", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.response))
			}))
			defer srv.Close()

			w := NewWalrus(srv.URL, "https://aggregator.example/", 3)
			uri, err := w.Upload(context.Background(), []byte("payload"))
			require.NoError(t, err)
			assert.Equal(t, tt.wantURI, uri)
			assert.Equal(t, "payload", gotBody)
			assert.Equal(t, "3", gotEpochs)
			assert.Equal(t, http.MethodPut, gotMethod)
		})
	}
}

func TestWalrusUploadErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of storage", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewWalrus(srv.URL, "https://aggregator.example", 1).Upload(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer empty.Close()

	_, err = NewWalrus(empty.URL, "https://aggregator.example", 1).Upload(context.Background(), []byte("x"))
	assert.ErrorContains(t, err, "no blob id")

	_, err = NewWalrus("", "", 1).Upload(context.Background(), []byte("x"))
	assert.Error(t, err)
}
