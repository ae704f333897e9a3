package activitypub

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/deemkeen/lemmings/db"
	"github.com/deemkeen/lemmings/domain"
	"github.com/deemkeen/lemmings/util"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const localDomain = "local.test"

func newTestFederation(t *testing.T, configure ...func(*util.AppConfig)) *Federation {
	t.Helper()
	cfg := util.DefaultConf()
	cfg.Conf.Domain = localDomain
	cfg.Conf.Federation.Enabled = true
	cfg.Conf.Federation.Debug = true
	for _, c := range configure {
		c(cfg)
	}
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewFederation(cfg, database, zap.NewNop())
}

// remoteInstance serves ActivityPub documents from memory.
type remoteInstance struct {
	srv *httptest.Server

	mu     sync.Mutex
	docs   map[string][]byte
	status map[string]int
	hits   map[string]int
	// requests wait until gate is closed
	gate chan struct{}
}

func newRemoteInstance(t *testing.T) *remoteInstance {
	t.Helper()
	r := &remoteInstance{
		docs:   map[string][]byte{},
		status: map[string]int{},
		hits:   map[string]int{},
	}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.hits[req.URL.Path]++
		gate := r.gate
		r.mu.Unlock()
		if gate != nil {
			<-gate
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if code, ok := r.status[req.URL.Path]; ok {
			w.WriteHeader(code)
			return
		}
		doc, ok := r.docs[req.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", ContentType)
		w.Write(doc)
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *remoteInstance) URL(path string) string {
	return r.srv.URL + path
}

func (r *remoteInstance) Authority() string {
	return util.Authority(r.srv.URL)
}

func (r *remoteInstance) serve(t *testing.T, path string, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[path] = raw
	delete(r.status, path)
}

func (r *remoteInstance) fail(path string, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status[path] = code
}

// hold makes requests block until the returned release is called.
func (r *remoteInstance) hold(t *testing.T) (release func()) {
	t.Helper()
	gate := make(chan struct{})
	r.mu.Lock()
	r.gate = gate
	r.mu.Unlock()
	var once sync.Once
	release = func() {
		once.Do(func() {
			r.mu.Lock()
			r.gate = nil
			r.mu.Unlock()
			close(gate)
		})
	}
	t.Cleanup(release)
	return release
}

// pathOf is the path of a URL served by r.
func (r *remoteInstance) pathOf(id string) string {
	return strings.TrimPrefix(id, r.srv.URL)
}

func (r *remoteInstance) hitCount(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits[path]
}

type testActor struct {
	id     string
	origin string
	key    *rsa.PrivateKey
	doc    ActorObject
}

// addActor publishes a person or group with a fresh key pair.
func (r *remoteInstance) addActor(t *testing.T, path, actorType string) *testActor {
	t.Helper()
	key, pub, err := generateTestKeyPair()
	require.NoError(t, err)
	pubPEM, err := publicKeyToPEM(pub)
	require.NoError(t, err)

	id := r.URL(path)
	a := &testActor{id: id, origin: r.srv.URL, key: key, doc: ActorObject{
		Context:           Context,
		ID:                id,
		Type:              actorType,
		PreferredUsername: filepath.Base(path),
		Inbox:             id + "/inbox",
		Followers:         id + "/followers",
		Endpoints:         &Endpoints{SharedInbox: r.URL("/inbox")},
		PublicKey:         PublicKey{ID: id + "#main-key", Owner: id, PublicKeyPem: pubPEM},
	}}
	r.serve(t, path, a.doc)
	return a
}

// newActivity builds the common fields of an activity sent by a.
func (a *testActor) newActivity(kind string, object any) map[string]any {
	return map[string]any{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       a.origin + "/activities/" + uuid.NewString(),
		"type":     kind,
		"actor":    a.id,
		"object":   object,
	}
}

// inboxRequest signs activity with the key of a.
func inboxRequest(t *testing.T, a *testActor, activity any) (*http.Request, []byte) {
	t.Helper()
	body, err := json.Marshal(activity)
	require.NoError(t, err)
	return signedRequest(t, a.key, http.MethodPost, "http://"+localDomain+"/inbox", body, a.id+"#main-key"), body
}

func receive(t *testing.T, f *Federation, a *testActor, activity any) error {
	t.Helper()
	req, body := inboxRequest(t, a, activity)
	return f.ReceiveActivity(context.Background(), req, body)
}

func createLocal(t *testing.T, f *Federation, actorType domain.ActorType, name string) *domain.Actor {
	t.Helper()
	a, err := f.CreateLocalActor(context.Background(), actorType, name, name)
	require.NoError(t, err)
	return a
}

func sentActivities(t *testing.T, f *Federation) []domain.SentActivity {
	t.Helper()
	sent, err := f.DB().ReadSentActivitiesAfter(context.Background(), 0, 1000)
	require.NoError(t, err)
	return sent
}

func sentOfKind(t *testing.T, f *Federation, kind string) []domain.SentActivity {
	t.Helper()
	var out []domain.SentActivity
	for _, s := range sentActivities(t, f) {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}
