package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/deemkeen/lemmings/activitypub"
	"github.com/deemkeen/lemmings/cache"
	"github.com/deemkeen/lemmings/db"
	"github.com/deemkeen/lemmings/domain"
	"github.com/deemkeen/lemmings/federation"
	"github.com/deemkeen/lemmings/util"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testInstance is a complete lemmings server listening on a loopback port.
// Its domain is the listener address, so two of them can federate.
type testInstance struct {
	srv      *httptest.Server
	fed      *activitypub.Federation
	server   *Server
	metrics  *federation.Metrics
	registry *prometheus.Registry
}

func newTestInstance(t *testing.T, configure ...func(*util.AppConfig)) *testInstance {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv := httptest.NewUnstartedServer(nil)
	cfg := util.DefaultConf()
	cfg.Conf.Domain = srv.Listener.Addr().String()
	cfg.Conf.Federation.Enabled = true
	cfg.Conf.Federation.Debug = true
	cfg.Conf.Federation.PollInterval = 10 * time.Millisecond
	cfg.Conf.Federation.RetryBase = 10 * time.Millisecond
	cfg.Conf.Federation.RetryMax = 100 * time.Millisecond
	cfg.Conf.Federation.WorkerRefreshInterval = 20 * time.Millisecond
	for _, c := range configure {
		c(cfg)
	}

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	fed := activitypub.NewFederation(cfg, database, zap.NewNop())
	registry := prometheus.NewRegistry()
	metrics := federation.NewMetrics(registry)
	server := NewServer(fed, cache.New(cache.NewMemoryStore(), time.Minute, zap.NewNop()), metrics, registry)

	srv.Config.Handler = NewRouter(server)
	srv.Start()
	t.Cleanup(srv.Close)
	return &testInstance{srv: srv, fed: fed, server: server, metrics: metrics, registry: registry}
}

// federate runs the outbound queue until the test ends.
func (ti *testInstance) federate(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		federation.NewSupervisor(ti.fed, ti.metrics).Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (ti *testInstance) createLocal(t *testing.T, actorType domain.ActorType, name string) *domain.Actor {
	t.Helper()
	a, err := ti.fed.CreateLocalActor(context.Background(), actorType, name, strings.ToUpper(name))
	require.NoError(t, err)
	return a
}

// get requests an absolute URL or a path on this instance.
func (ti *testInstance) get(t *testing.T, target, accept string) *http.Response {
	t.Helper()
	if strings.HasPrefix(target, "/") {
		target = ti.srv.URL + target
	}
	req, err := http.NewRequest(http.MethodGet, target, nil)
	require.NoError(t, err)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := ti.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &v), string(body))
	return v
}
