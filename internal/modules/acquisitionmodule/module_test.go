package acquisitionmodule

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/cinerelay/internal/config"
	"github.com/mantonx/cinerelay/internal/events"
	"github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/core"
	"github.com/mantonx/cinerelay/internal/modules/modulemanager"
	"github.com/mantonx/cinerelay/internal/modules/proxymodule"
	"github.com/mantonx/cinerelay/internal/modules/proxymodule/proxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend imitates the cloud account's REST surface
type fakeBackend struct {
	mu        sync.Mutex
	submitted bool
	deleted   []string
	auth      []string
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.auth = append(b.auth, r.Header.Get("Authorization")+"|"+r.Header.Get("Cookie"))

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/rest/fs/folder/0/items":
		if !b.submitted {
			fmt.Fprint(w, `{"folders":[{"id":1,"path":"Leftover"}],"files":[],"torrents":[]}`)
			return
		}
		fmt.Fprint(w, `{"folders":[{"id":5,"path":"Movie.2020.1080p"}],"files":[],"torrents":[]}`)
	case "/rest/fs/folder/5/items":
		fmt.Fprint(w, `{"folders":[],"files":[{"folder_file_id":7,"name":"movie.sample.mkv"},{"folder_file_id":6,"name":"movie.mp4"}]}`)
	case "/rest/fs/batch/delete":
		r.ParseForm()
		b.deleted = append(b.deleted, r.PostForm.Get("delete_arr"))
		fmt.Fprint(w, `{"success":true}`)
	case "/rest/task":
		b.submitted = true
		fmt.Fprint(w, `{"success":true,"user_torrent_id":99,"title":"Movie.2020.1080p"}`)
	case "/rest/presentation/fs/item/6/video/url":
		fmt.Fprint(w, `{"url":"https://cdn.example/hls/6/index.m3u8"}`)
	case "/auth/login":
		http.SetCookie(w, &http.Cookie{Name: "RSESS_session", Value: "fresh", Domain: "seedr.example", Path: "/rest"})
		fmt.Fprint(w, `{"success":true}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"not found"}`)
	}
}

func loadModules(t *testing.T, upstream string) (*gin.Engine, *Module) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	path := filepath.Join(t.TempDir(), "cinerelay.yaml")
	yaml := fmt.Sprintf("cloud:\n  base_url: %s\n  requests_per_second: 0\nacquisition:\n  poll_interval: 5ms\n  max_attempts: 50\n", upstream)
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cm := config.NewConfigManager()
	require.NoError(t, cm.LoadConfig(path))

	bus := events.NewEventBus(events.DefaultConfig(), nil)
	require.NoError(t, bus.Start(context.Background()))

	acq := &Module{}
	registry := modulemanager.NewRegistry()
	registry.Register(acq)
	registry.Register(&proxymodule.Module{})
	require.NoError(t, registry.LoadAll(&modulemanager.Environment{Config: cm, Bus: bus, Logger: hclog.NewNullLogger()}))
	t.Cleanup(func() {
		registry.Shutdown(context.Background())
		bus.Stop(context.Background())
	})

	router := gin.New()
	registry.RegisterRoutes(router)
	return router, acq
}

func TestModule_AcquisitionThroughInProcessProxy(t *testing.T) {
	backend := &fakeBackend{}
	upstream := httptest.NewServer(backend)
	defer upstream.Close()

	router, acq := loadModules(t, upstream.URL)

	body, _ := json.Marshal(map[string]string{
		"source": "0123456789abcdef0123456789abcdef01234567",
		"title":  "Movie.2020",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/acquisitions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(proxy.CredentialHeader, "RSESS_session=abc; theme=dark")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var started core.RunSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))

	run, ok := acq.Manager().Get(started.ID)
	require.True(t, ok)
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("acquisition did not finish")
	}

	snap := run.Snapshot()
	require.Equal(t, core.StateResolved, snap.State, "%+v", snap.Failure)
	assert.Equal(t, "https://cdn.example/hls/6/index.m3u8", snap.Result.URL)
	assert.Equal(t, core.MediaTypeHLS, snap.Result.MediaType)
	assert.Equal(t, "mp4", snap.Result.Container)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.deleted, 1)
	assert.JSONEq(t, `[{"type":"folder","id":"1"}]`, backend.deleted[0])
	for _, a := range backend.auth {
		assert.Equal(t, "Bearer abc|RSESS_session=abc; theme=dark", a)
	}
}

func TestModule_LoginAndProxyRoutes(t *testing.T) {
	upstream := httptest.NewServer(&fakeBackend{})
	defer upstream.Close()

	router, _ := loadModules(t, upstream.URL)

	body, _ := json.Marshal(map[string]string{"username": "me", "password": "pw"})
	req := httptest.NewRequest(http.MethodPost, "/api/session/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"token":"fresh"`)

	req = httptest.NewRequest(http.MethodGet, "/api/proxy?path=fs/folder/5/items", nil)
	req.Header.Set(proxy.CredentialHeader, "RSESS_session=abc")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "movie.mp4")
}
