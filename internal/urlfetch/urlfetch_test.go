package urlfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch_DownloadsAndHashesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "5")
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	f := New(Config{MaxSize: 1 << 20, TotalBudget: 5 * time.Second})
	dest := filepath.Join(t.TempDir(), "out.bin")

	result, err := f.Fetch(context.Background(), srv.URL, dest)
	require.NoError(t, err)
	assert.EqualValues(t, 5, result.Size)
	assert.Equal(t, "text/plain", result.MimeType)
	assert.NotEmpty(t, result.Hash)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestFetch_HeadDeclaredSizeTooLargeRejectsBeforeGet(t *testing.T) {
	getCalled := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "1000000")
			return
		}
		getCalled = true
	}))
	defer srv.Close()

	f := New(Config{MaxSize: 10, TotalBudget: 5 * time.Second})
	_, err := f.Fetch(context.Background(), srv.URL, filepath.Join(t.TempDir(), "out.bin"))
	assert.ErrorIs(t, err, ErrTooLargeDeclared)
	assert.False(t, getCalled, "GET must never run once HEAD's declared size fails the cap")
}

func TestFetch_ActualSizeTooLargeRejectsAndRemovesPartialFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write([]byte("this body is too long for the cap"))
	}))
	defer srv.Close()

	f := New(Config{MaxSize: 5, TotalBudget: 5 * time.Second})
	dest := filepath.Join(t.TempDir(), "out.bin")

	_, err := f.Fetch(context.Background(), srv.URL, dest)
	assert.ErrorIs(t, err, ErrTooLargeActual)
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetch_NonSuccessStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{MaxSize: 1 << 20, TotalBudget: 5 * time.Second})
	_, err := f.Fetch(context.Background(), srv.URL, filepath.Join(t.TempDir(), "out.bin"))
	assert.Error(t, err)
}

func TestFetch_ProxyTemplateRewritesTargetURL(t *testing.T) {
	var capturedPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(Config{MaxSize: 1 << 20, TotalBudget: 5 * time.Second, ProxyTemplate: srv.URL + "/proxy?u={url}"})
	_, err := f.Fetch(context.Background(), "http://upstream.example/file", filepath.Join(t.TempDir(), "out.bin"))
	require.NoError(t, err)
	assert.Equal(t, "/proxy", capturedPath)
}

func TestExtensionFromDisposition(t *testing.T) {
	assert.Equal(t, ".png", extensionFromDisposition(`attachment; filename="photo.png"`))
	assert.Equal(t, "", extensionFromDisposition(""))
	assert.Equal(t, "", extensionFromDisposition("garbage;;;"))
}
