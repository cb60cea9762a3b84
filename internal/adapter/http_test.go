package adapter_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forecastlab/pm-warehouse/internal/adapter"
	"github.com/forecastlab/pm-warehouse/internal/logger"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func testPolicy() adapter.RetryPolicy {
	return adapter.RetryPolicy{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  time.Second,
	}
}

func TestGetDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`{"id": "e1"}`))
	}))
	defer srv.Close()

	client := adapter.NewHTTPClient(time.Second, testPolicy())

	var result map[string]string
	err := client.Get(context.Background(), srv.URL, &result)
	require.NoError(t, err)
	assert.Equal(t, "e1", result["id"])
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	client := adapter.NewHTTPClient(time.Second, testPolicy())

	var result map[string]bool
	err := client.Get(context.Background(), srv.URL, &result)
	require.NoError(t, err)
	assert.True(t, result["ok"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetRetriesTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := adapter.NewHTTPClient(time.Second, testPolicy())

	var result map[string]any
	err := client.Get(context.Background(), srv.URL, &result)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetRetriesClientErrorsUntilElapsed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := adapter.NewHTTPClient(time.Second, adapter.RetryPolicy{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxElapsedTime:  20 * time.Millisecond,
	})

	var result map[string]any
	err := client.Get(context.Background(), srv.URL, &result)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestGetHonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := adapter.NewHTTPClient(time.Second, adapter.RetryPolicy{
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
		MaxElapsedTime:  time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var result map[string]any
	err := client.Get(ctx, srv.URL, &result)
	assert.Error(t, err)
}
