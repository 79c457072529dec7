package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catchall/internal/models"
)

func TestDeliver(t *testing.T) {
	var got *http.Request
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	hook := models.Webhook{
		URL:     srv.URL + "/hook",
		Method:  "PUT",
		Headers: map[string]string{"X-Source": "catchall"},
		Params:  map[string]string{"team": "research"},
		Auth:    &models.BasicAuth{Username: "svc", Password: "s3cret"},
	}

	err := NewDeliverer(time.Second, arbor.NewLogger()).Deliver(context.Background(), hook, map[string]interface{}{"monitor_id": "m-1"})
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPut, got.Method)
	assert.Equal(t, "/hook", got.URL.Path)
	assert.Equal(t, "research", got.URL.Query().Get("team"))
	assert.Equal(t, "catchall", got.Header.Get("X-Source"))
	user, pass, ok := got.BasicAuth()
	assert.True(t, ok)
	assert.Equal(t, "svc", user)
	assert.Equal(t, "s3cret", pass)
	assert.Equal(t, "m-1", body["monitor_id"])
}

func TestDeliverDefaultsToPost(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
	}))
	defer srv.Close()

	err := NewDeliverer(time.Second, arbor.NewLogger()).Deliver(context.Background(), models.Webhook{URL: srv.URL}, "x")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, method)
}

func TestDeliverNon2xx(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewDeliverer(time.Second, arbor.NewLogger()).Deliver(context.Background(), models.Webhook{URL: srv.URL}, "x")
	var derr *DeliveryError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, http.StatusInternalServerError, derr.StatusCode)
	assert.Equal(t, 1, calls, "delivery is attempted once")
}

func TestDeliverNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewDeliverer(time.Second, arbor.NewLogger()).Deliver(context.Background(), models.Webhook{URL: url}, "x")
	var derr *DeliveryError
	require.True(t, errors.As(err, &derr))
	assert.Zero(t, derr.StatusCode)
	assert.Error(t, derr.Err)
}
