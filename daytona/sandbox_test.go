package daytona

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daytonaio/sdk-go/internal/api"
	"github.com/daytonaio/sdk-go/internal/eventbus"
)

func intPtr(v int) *int { return &v }

func eventOf(t *testing.T, name string, payload interface{}) eventbus.Event {
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return eventbus.Event{Name: name, SandboxID: "sb-1", Payload: data}
}

func TestResizeRejectsDecrease(t *testing.T) {
	f := newFakePlatform(t)
	var resized int32
	f.onAction = func(sb *api.Sandbox, action string) {
		if action == "resize" {
			atomic.AddInt32(&resized, 1)
		}
	}
	c := f.client(nil)
	sb := f.sandbox(c, api.Sandbox{ID: "sb-1", CPU: 4, Memory: 4, Disk: 10})

	err := sb.Resize(context.Background(), ResizeParams{CPU: intPtr(2), Memory: intPtr(8)})
	require.Error(t, err)
	assert.True(t, IsValidation(err), err)
	assert.Contains(t, err.Error(), "CPU cannot be decreased")
	assert.Equal(t, StateStarted, sb.State())
	assert.Equal(t, float64(4), sb.Info().CPU)

	err = sb.Resize(context.Background(), ResizeParams{Disk: intPtr(20)})
	assert.True(t, IsValidation(err), err)
	assert.Contains(t, err.Error(), "stopped")

	err = sb.Resize(context.Background(), ResizeParams{})
	assert.True(t, IsValidation(err), err)

	err = sb.Resize(context.Background(), ResizeParams{CPU: intPtr(4)})
	assert.True(t, IsValidation(err), err)

	err = sb.Resize(context.Background(), ResizeParams{CPU: intPtr(0)})
	assert.True(t, IsValidation(err), err)

	assert.Zero(t, atomic.LoadInt32(&resized))
}

func TestResizeWaitsForCompletion(t *testing.T) {
	f := newFakePlatform(t)
	f.onAction = func(sb *api.Sandbox, action string) {
		if action == "resize" {
			sb.State = api.SandboxStateResizing
			sb.CPU = 8
		}
	}
	var gets int32
	f.onGet = func(sb *api.Sandbox) {
		if sb.State == api.SandboxStateResizing && atomic.AddInt32(&gets, 1) > 2 {
			sb.State = api.SandboxStateStarted
		}
	}
	c := f.client(nil)
	sb := f.sandbox(c, api.Sandbox{ID: "sb-1", CPU: 4, Memory: 4, Disk: 10})

	err := sb.Resize(context.Background(), ResizeParams{CPU: intPtr(8)}, WithTimeout(5*time.Second), withPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, StateStarted, sb.State())
	assert.Equal(t, float64(8), sb.Info().CPU)
}

func TestStopWaitsForEvent(t *testing.T) {
	f := newFakePlatform(t)
	f.onAction = func(sb *api.Sandbox, action string) {
		if action == "stop" {
			sb.State = api.SandboxStateStopping
		}
	}
	c := f.client(func(config *Config) {
		config.DisableEventBus = false
		config.EventBus.DisconnectDelay = 50 * time.Millisecond
	})
	sb := f.sandbox(c, api.Sandbox{ID: "sb-ev"})

	published := make(chan struct{})
	go func() {
		defer close(published)
		deadline := time.Now().Add(3 * time.Second)
		for !f.busConnected() && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		time.Sleep(500 * time.Millisecond)
		f.setState("sb-ev", api.SandboxStateStopped)
		f.emit("sandbox.state.updated", map[string]interface{}{
			"sandbox":  map[string]interface{}{"id": "sb-ev", "state": "stopped"},
			"oldState": "stopping",
			"newState": "stopped",
		})
	}()

	start := time.Now()
	err := sb.Stop(context.Background(), WithTimeout(10*time.Second))
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, sb.State())
	assert.Less(t, elapsed, 2*time.Second)
	<-published

	f.emit("sandbox.state.updated", map[string]interface{}{
		"sandbox":  map[string]interface{}{"id": "sb-ev", "state": "destroyed"},
		"oldState": "stopped",
		"newState": "destroyed",
	})
	require.NoError(t, sb.WaitForStop(context.Background(), WithTimeout(time.Second)))
}

func TestStopFallsBackToPolling(t *testing.T) {
	f := newFakePlatform(t)
	f.onAction = func(sb *api.Sandbox, action string) {
		if action == "stop" {
			sb.State = api.SandboxStateStopping
		}
	}
	var gets int32
	f.onGet = func(sb *api.Sandbox) {
		if sb.State == api.SandboxStateStopping && atomic.AddInt32(&gets, 1) > 3 {
			sb.State = api.SandboxStateStopped
		}
	}
	c := f.client(nil)
	sb := f.sandbox(c, api.Sandbox{ID: "sb-1"})

	require.NoError(t, sb.Stop(context.Background(), WithTimeout(5*time.Second)))
	assert.Equal(t, StateStopped, sb.State())
}

func TestWaitTimesOut(t *testing.T) {
	f := newFakePlatform(t)
	c := f.client(nil)
	sb := f.sandbox(c, api.Sandbox{ID: "sb-1", State: api.SandboxStateStarting})

	err := sb.WaitForStart(context.Background(), WithTimeout(200*time.Millisecond))
	require.Error(t, err)
	assert.True(t, IsTimeout(err), err)
	assert.Contains(t, err.Error(), "current state starting")
}

func TestDeleteMarksDestroyed(t *testing.T) {
	f := newFakePlatform(t)
	c := f.client(nil)
	sb := f.sandbox(c, api.Sandbox{ID: "sb-1"})

	require.NoError(t, sb.Delete(context.Background()))
	assert.Equal(t, StateDestroyed, sb.State())

	err := sb.Refresh(context.Background())
	assert.True(t, IsNotFound(err), err)
}

func TestApplyEventMergesPartialView(t *testing.T) {
	f := newFakePlatform(t)
	c := f.client(nil)
	sb := f.sandbox(c, api.Sandbox{ID: "sb-1", Name: "keep-me", CPU: 2})

	sb.applyEvent(eventOf(t, "sandbox.state.updated", map[string]interface{}{
		"sandbox":  map[string]interface{}{"id": "sb-1", "state": "error", "errorReason": "disk full"},
		"newState": "error",
	}))
	info := sb.Info()
	assert.Equal(t, StateError, info.State)
	assert.Equal(t, "disk full", info.ErrorReason)
	assert.Equal(t, "keep-me", info.Name)
	assert.Equal(t, float64(2), info.CPU)

	sb.applyEvent(eventOf(t, "sandbox.desired-state.updated", map[string]interface{}{
		"sandbox":         map[string]interface{}{"id": "sb-1"},
		"newDesiredState": "started",
	}))
	assert.Equal(t, "started", sb.Info().DesiredState)
	assert.Equal(t, StateError, sb.State())
}

func TestPreviewAndSSHAccess(t *testing.T) {
	f := newFakePlatform(t)
	f.router.HandleFunc("/api/sandbox/{id}/ports/{port}/signed-preview-url", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3000", mux.Vars(r)["port"])
		assert.Equal(t, "120", r.URL.Query().Get("expiresInSeconds"))
		writeJSON(w, http.StatusOK, api.SignedPortPreviewURL{SandboxID: "sb-1", Port: 3000, Token: "tok", URL: "https://3000-sb-1.proxy"})
	}).Methods(http.MethodGet)
	f.router.HandleFunc("/api/sandbox/{id}/ssh-access", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("expiresInMinutes"))
		writeJSON(w, http.StatusOK, api.SSHAccess{ID: "a", SandboxID: "sb-1", Token: "ssh-tok", SSHCommand: "ssh ssh-tok@host"})
	}).Methods(http.MethodPost)
	c := f.client(nil)
	sb := f.sandbox(c, api.Sandbox{ID: "sb-1"})

	signed, err := sb.CreateSignedPreviewURL(context.Background(), 3000, 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "tok", signed.Token)

	_, err = sb.CreateSignedPreviewURL(context.Background(), 0, time.Minute)
	assert.True(t, IsValidation(err), err)

	access, err := sb.CreateSSHAccess(context.Background(), 90*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ssh-tok", access.Token)
}
