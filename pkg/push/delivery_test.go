package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskmesh/runtime/pkg/types"
)

func sampleEvent() types.PushEvent {
	return types.PushEvent{
		EventID:  uuid.New(),
		Sequence: 1,
		TaskID:   uuid.New(),
		Kind:     types.EventStatusUpdate,
		Status:   &types.StatusPayload{State: types.TaskWorking},
	}
}

func TestHTTPDelivererSucceedsOnFirstAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewHTTPDeliverer()
	err := d.Deliver(context.Background(), types.WebhookConfig{URL: srv.URL, Token: "secret"}, sampleEvent())
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestHTTPDelivererRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewHTTPDeliverer()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := d.Deliver(ctx, types.WebhookConfig{URL: srv.URL}, sampleEvent())
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestHTTPDelivererDoesNotRetry4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d := NewHTTPDeliverer()
	err := d.Deliver(context.Background(), types.WebhookConfig{URL: srv.URL}, sampleEvent())
	assert.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "4xx responses must not be retried")
}

func TestHTTPDelivererGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewHTTPDeliverer()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := d.Deliver(ctx, types.WebhookConfig{URL: srv.URL}, sampleEvent())
	assert.Error(t, err)
	assert.EqualValues(t, deliveryMaxAttempts, atomic.LoadInt32(&calls))
}
