package daytona

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daytonaio/sdk-go/internal/api"
)

func volumeNotFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]interface{}{
		"statusCode": 404,
		"message":    "Volume with name " + mux.Vars(r)["name"] + " not found",
	})
}

func TestGetVolumeCreatesMissing(t *testing.T) {
	f := newFakePlatform(t)
	f.router.HandleFunc("/api/volumes/by-name/{name}", volumeNotFoundHandler).Methods(http.MethodGet)
	var created int32
	f.router.HandleFunc("/api/volumes", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&created, 1)
		writeJSON(w, http.StatusOK, api.Volume{ID: "vol-1", Name: "data", State: api.VolumeStatePendingCreate})
	}).Methods(http.MethodPost)
	c := f.client(nil)

	_, err := c.Volumes().Get(context.Background(), "data", false)
	require.Error(t, err)
	assert.True(t, IsNotFound(err), err)
	assert.Zero(t, atomic.LoadInt32(&created))

	v, err := c.Volumes().Get(context.Background(), "data", true)
	require.NoError(t, err)
	assert.Equal(t, "vol-1", v.ID)
	assert.Equal(t, VolumePendingCreate, v.State)
	assert.Equal(t, int32(1), atomic.LoadInt32(&created))

	_, err = c.Volumes().Get(context.Background(), "", true)
	assert.True(t, IsValidation(err), err)
}

func TestGetVolumeLosesCreateRace(t *testing.T) {
	f := newFakePlatform(t)
	var lookups int32
	f.router.HandleFunc("/api/volumes/by-name/{name}", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&lookups, 1) == 1 {
			volumeNotFoundHandler(w, r)
			return
		}
		writeJSON(w, http.StatusOK, api.Volume{ID: "vol-other", Name: "data", State: api.VolumeStateReady})
	}).Methods(http.MethodGet)
	f.router.HandleFunc("/api/volumes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]interface{}{"statusCode": 409, "message": "Volume with name data already exists"})
	}).Methods(http.MethodPost)
	c := f.client(nil)

	v, err := c.Volumes().Get(context.Background(), "data", true)
	require.NoError(t, err)
	assert.Equal(t, "vol-other", v.ID)
	assert.Equal(t, VolumeReady, v.State)
}

func TestGetVolumeOtherNotFoundIsNotCreated(t *testing.T) {
	f := newFakePlatform(t)
	f.router.HandleFunc("/api/volumes/by-name/{name}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"message": "Organization not found"})
	}).Methods(http.MethodGet)
	f.router.HandleFunc("/api/volumes", func(w http.ResponseWriter, r *http.Request) {
		t.Error("volume must not be created")
	}).Methods(http.MethodPost)
	c := f.client(nil)

	_, err := c.Volumes().Get(context.Background(), "data", true)
	assert.True(t, IsNotFound(err), err)
}

func TestWaitForVolumeReady(t *testing.T) {
	f := newFakePlatform(t)
	var polls int32
	f.router.HandleFunc("/api/volumes/{id}", func(w http.ResponseWriter, r *http.Request) {
		state := api.VolumeStateCreating
		if atomic.AddInt32(&polls, 1) >= 3 {
			state = api.VolumeStateReady
		}
		writeJSON(w, http.StatusOK, api.Volume{ID: mux.Vars(r)["id"], Name: "data", State: state})
	}).Methods(http.MethodGet)
	f.router.HandleFunc("/api/volumes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []api.Volume{{ID: "vol-1", Name: "data", State: api.VolumeStateReady}})
	}).Methods(http.MethodGet)
	c := f.client(nil)

	v, err := c.Volumes().WaitForReady(context.Background(), &Volume{ID: "vol-1", Name: "data", State: VolumePendingCreate},
		withPollInterval(10*time.Millisecond), WithTimeout(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, VolumeReady, v.State)
	assert.Equal(t, int32(3), atomic.LoadInt32(&polls))

	_, err = c.Volumes().WaitForReady(context.Background(), &Volume{ID: "vol-2", Name: "bad", State: VolumeError, ErrorReason: "quota"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")

	volumes, err := c.Volumes().List(context.Background())
	require.NoError(t, err)
	require.Len(t, volumes, 1)
	assert.Equal(t, "data", volumes[0].Name)
}
