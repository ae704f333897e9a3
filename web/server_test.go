package web

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/deemkeen/lemmings/activitypub"
	"github.com/deemkeen/lemmings/domain"
	"github.com/deemkeen/lemmings/util"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pathOf(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Path
}

func TestActorDocument(t *testing.T) {
	ti := newTestInstance(t)
	community := ti.createLocal(t, domain.GroupType, "main")

	resp := ti.get(t, "/c/main", activitypub.ContentType)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), activitypub.ContentType))
	doc := decode[activitypub.ActorObject](t, resp)
	assert.Equal(t, community.ApId, doc.ID)
	assert.Equal(t, "Group", doc.Type)
	assert.Equal(t, community.InboxURL, doc.Inbox)
	assert.Equal(t, ti.srv.URL+"/inbox", doc.Endpoints.SharedInbox)
	assert.Equal(t, community.KeyId(), doc.PublicKey.ID)
	_, err := activitypub.ParsePublicKey(doc.PublicKey.PublicKeyPem)
	assert.NoError(t, err)

	resp = ti.get(t, "/c/main", activitypub.LDContentType)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ti.get(t, "/c/main", "text/html")
	assert.Equal(t, http.StatusNotAcceptable, resp.StatusCode)

	resp = ti.get(t, "/u/main", activitypub.ContentType)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeletedActorIsGone(t *testing.T) {
	ti := newTestInstance(t)
	alice := ti.createLocal(t, domain.PersonType, "alice")
	require.NoError(t, ti.fed.SendDeleteActor(context.Background(), alice))

	resp := ti.get(t, "/u/alice", activitypub.ContentType)
	require.Equal(t, http.StatusGone, resp.StatusCode)
	tomb := decode[activitypub.Tombstone](t, resp)
	assert.Equal(t, "Tombstone", tomb.Type)
	assert.Equal(t, alice.ApId, tomb.ID)
}

func TestPostAndCommentObjects(t *testing.T) {
	ti := newTestInstance(t)
	ctx := context.Background()
	community := ti.createLocal(t, domain.GroupType, "main")
	alice := ti.createLocal(t, domain.PersonType, "alice")

	post, err := ti.fed.CreateLocalPost(ctx, alice, community, "Hello", "https://example.org/", "body")
	require.NoError(t, err)
	comment, err := ti.fed.CreateLocalComment(ctx, alice, &activitypub.PostOrComment{Post: post}, "first")
	require.NoError(t, err)

	resp := ti.get(t, pathOf(t, post.ApId), activitypub.ContentType)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[activitypub.PageObject](t, resp)
	assert.Equal(t, post.ApId, page.ID)
	assert.Equal(t, "Page", page.Type)
	assert.Equal(t, "Hello", page.Name)
	assert.Equal(t, community.ApId, page.Community())
	assert.NotNil(t, page.Context)

	resp = ti.get(t, pathOf(t, comment.ApId), activitypub.ContentType)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	note := decode[activitypub.NoteObject](t, resp)
	assert.Equal(t, "first", note.Content)
	assert.Equal(t, activitypub.IRI(post.ApId), note.InReplyTo)

	require.NoError(t, ti.fed.SendDelete(ctx, alice, &activitypub.PostOrComment{Post: post}, community))
	resp = ti.get(t, pathOf(t, post.ApId), activitypub.ContentType)
	assert.Equal(t, http.StatusGone, resp.StatusCode)

	resp = ti.get(t, "/post/does-not-exist", activitypub.ContentType)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestActivityEndpoint(t *testing.T) {
	ti := newTestInstance(t)
	ctx := context.Background()
	community := ti.createLocal(t, domain.GroupType, "main")
	alice := ti.createLocal(t, domain.PersonType, "alice")
	_, err := ti.fed.CreateLocalPost(ctx, alice, community, "Hello", "", "")
	require.NoError(t, err)

	sent, err := ti.fed.DB().ReadSentActivitiesAfter(ctx, 0, 10)
	require.NoError(t, err)
	require.NotEmpty(t, sent)

	resp := ti.get(t, pathOf(t, sent[0].ApId), activitypub.ContentType)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, sent[0].Data, string(body))

	flag := &domain.SentActivity{
		ApId:      ti.fed.BaseURL() + "/activities/flag/1",
		Kind:      "Flag",
		Data:      "{}",
		ActorApId: alice.ApId,
		Sensitive: true,
	}
	_, err = ti.fed.DB().InsertSentActivity(ctx, flag)
	require.NoError(t, err)
	resp = ti.get(t, "/activities/flag/1", activitypub.ContentType)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCommunityCollections(t *testing.T) {
	ti := newTestInstance(t)
	ctx := context.Background()
	community := ti.createLocal(t, domain.GroupType, "main")
	alice := ti.createLocal(t, domain.PersonType, "alice")
	bob := ti.createLocal(t, domain.PersonType, "bob")

	require.NoError(t, ti.fed.DB().AddModerator(ctx, community.Id, alice.Id))
	_, err := ti.fed.FollowCommunity(ctx, bob, community.ApId)
	require.NoError(t, err)
	_, err = ti.fed.CreateLocalPost(ctx, alice, community, "Hello", "", "")
	require.NoError(t, err)

	followers := decode[activitypub.Collection](t, ti.get(t, "/c/main/followers", activitypub.ContentType))
	assert.Equal(t, community.FollowersURL, followers.ID)
	assert.Equal(t, 1, followers.TotalItems)
	assert.Empty(t, followers.OrderedItems)

	mods := decode[activitypub.Collection](t, ti.get(t, "/c/main/moderators", activitypub.ContentType))
	assert.Equal(t, []activitypub.IRI{activitypub.IRI(alice.ApId)}, mods.OrderedItems)

	outbox := decode[pageCollection](t, ti.get(t, "/c/main/outbox", activitypub.ContentType))
	require.Len(t, outbox.OrderedItems, 1)
	assert.Equal(t, "Hello", outbox.OrderedItems[0].Name)

	empty := decode[activitypub.Collection](t, ti.get(t, "/u/alice/outbox", activitypub.ContentType))
	assert.Zero(t, empty.TotalItems)
}

func TestInboxStatusCodes(t *testing.T) {
	ti := newTestInstance(t)
	ti.createLocal(t, domain.PersonType, "alice")
	post := func(path string, body []byte) int {
		resp, err := ti.srv.Client().Post(ti.srv.URL+path, activitypub.ContentType, bytes.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	activity := []byte(`{"id":"http://remote.example/a/1","type":"Follow","actor":"http://remote.example/u/x","object":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, post("/inbox", activity))
	assert.Equal(t, http.StatusUnauthorized, post("/u/alice/inbox", activity))
	assert.Equal(t, http.StatusNotFound, post("/u/nobody/inbox", activity))
	assert.Equal(t, http.StatusRequestEntityTooLarge, post("/inbox", bytes.Repeat([]byte("a"), MaxInboxBody+1)))

	assert.Equal(t, 2.0, testutil.ToFloat64(ti.metrics.Received.WithLabelValues("401")))
	assert.Equal(t, 0.0, testutil.ToFloat64(ti.metrics.Received.WithLabelValues("413")))
}

func TestNodeInfoIsCached(t *testing.T) {
	ti := newTestInstance(t)
	ti.createLocal(t, domain.PersonType, "alice")

	links := decode[struct {
		Links []struct{ Rel, Href string } `json:"links"`
	}](t, ti.get(t, "/.well-known/nodeinfo", ""))
	require.Len(t, links.Links, 1)
	assert.Equal(t, ti.srv.URL+"/nodeinfo/2.0.json", links.Links[0].Href)

	info := decode[NodeInfo](t, ti.get(t, "/nodeinfo/2.0.json", ""))
	assert.Equal(t, "lemmings", info.Software.Name)
	assert.Equal(t, []string{"activitypub"}, info.Protocols)
	assert.EqualValues(t, 1, info.Usage.Users.Total)

	ti.createLocal(t, domain.PersonType, "bob")
	info = decode[NodeInfo](t, ti.get(t, "/nodeinfo/2.0.json", ""))
	assert.EqualValues(t, 1, info.Usage.Users.Total)

	require.NoError(t, ti.server.cache.Invalidate(context.Background(), nodeInfoCacheKey))
	info = decode[NodeInfo](t, ti.get(t, "/nodeinfo/2.0.json", ""))
	assert.EqualValues(t, 2, info.Usage.Users.Total)
}

func TestMetricsEndpoint(t *testing.T) {
	ti := newTestInstance(t)
	resp := ti.get(t, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "lemmings_federation_workers")

	off := newTestInstance(t, func(c *util.AppConfig) { c.Conf.Metrics = false })
	assert.Equal(t, http.StatusNotFound, off.get(t, "/metrics", "").StatusCode)
}
