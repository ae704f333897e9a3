package activitypub

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/deemkeen/lemmings/domain"
	"github.com/deemkeen/lemmings/util"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestReceiveFollowIsAcceptedOnce(t *testing.T) {
	f := newTestFederation(t)
	remote := newRemoteInstance(t)
	ctx := context.Background()

	community := createLocal(t, f, domain.GroupType, "main")
	alice := remote.addActor(t, "/u/alice", "Person")

	follow := alice.newActivity("Follow", community.ApId)
	require.NoError(t, receive(t, f, alice, follow))

	follower, err := f.DB().ReadActorByApId(ctx, alice.id)
	require.NoError(t, err)
	rel, err := f.DB().ReadFollow(ctx, follower.Id, community.Id)
	require.NoError(t, err)
	assert.False(t, rel.Pending)

	accepts := sentOfKind(t, f, "Accept")
	require.Len(t, accepts, 1)
	assert.Equal(t, []string{alice.doc.Inbox}, accepts[0].SendInboxes)
	assert.Equal(t, community.ApId, accepts[0].ActorApId)

	// the same activity again is a no-op
	require.NoError(t, receive(t, f, alice, follow))
	assert.Len(t, sentOfKind(t, f, "Accept"), 1)

	// a second follow keeps one relationship and is answered again
	require.NoError(t, receive(t, f, alice, alice.newActivity("Follow", community.ApId)))
	assert.Len(t, sentOfKind(t, f, "Accept"), 2)
	followers, err := f.DB().ReadFollowers(ctx, community.Id)
	require.NoError(t, err)
	assert.Len(t, followers, 1)
}

func TestReceiveFollowFromBannedPersonIsRejected(t *testing.T) {
	f := newTestFederation(t)
	remote := newRemoteInstance(t)
	ctx := context.Background()

	community := createLocal(t, f, domain.GroupType, "main")
	alice := remote.addActor(t, "/u/alice", "Person")
	require.NoError(t, receive(t, f, alice, alice.newActivity("Follow", community.ApId)))

	follower, err := f.DB().ReadActorByApId(ctx, alice.id)
	require.NoError(t, err)
	require.NoError(t, f.DB().Ban(ctx, community.Id, follower.Id))
	require.NoError(t, f.DB().DeleteFollow(ctx, follower.Id, community.Id))

	require.NoError(t, receive(t, f, alice, alice.newActivity("Follow", community.ApId)))
	assert.Len(t, sentOfKind(t, f, "Reject"), 1)
	_, err = f.DB().ReadFollow(ctx, follower.Id, community.Id)
	assert.Error(t, err)
}

func TestReceiveUndoFollow(t *testing.T) {
	f := newTestFederation(t)
	remote := newRemoteInstance(t)
	ctx := context.Background()

	community := createLocal(t, f, domain.GroupType, "main")
	alice := remote.addActor(t, "/u/alice", "Person")
	follow := alice.newActivity("Follow", community.ApId)
	require.NoError(t, receive(t, f, alice, follow))

	require.NoError(t, receive(t, f, alice, alice.newActivity("Undo", follow)))
	count, err := f.DB().CountFollowers(ctx, community.Id)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestReceiveRejectsForgedRequests(t *testing.T) {
	f := newTestFederation(t)
	remote := newRemoteInstance(t)
	other := newRemoteInstance(t)

	community := createLocal(t, f, domain.GroupType, "main")
	alice := remote.addActor(t, "/u/alice", "Person")
	mallory := other.addActor(t, "/u/mallory", "Person")

	t.Run("activity id on another instance", func(t *testing.T) {
		a := alice.newActivity("Follow", community.ApId)
		a["id"] = other.URL("/activities/1")
		assert.ErrorIs(t, receive(t, f, alice, a), ErrUnauthorized)
	})

	t.Run("signed by someone else", func(t *testing.T) {
		a := alice.newActivity("Follow", community.ApId)
		req, body := inboxRequest(t, mallory, a)
		err := f.ReceiveActivity(context.Background(), req, body)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("tampered body", func(t *testing.T) {
		req, _ := inboxRequest(t, alice, alice.newActivity("Follow", community.ApId))
		tampered, _ := json.Marshal(alice.newActivity("Follow", "http://local.test/c/other"))
		err := f.ReceiveActivity(context.Background(), req, tampered)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("unsigned", func(t *testing.T) {
		_, body := inboxRequest(t, alice, alice.newActivity("Follow", community.ApId))
		req, _ := http.NewRequest(http.MethodPost, "http://local.test/inbox", nil)
		req.Header.Set("Digest", calculateDigest(body))
		assert.ErrorIs(t, f.ReceiveActivity(context.Background(), req, body), ErrUnauthorized)
	})

	t.Run("claims local origin", func(t *testing.T) {
		a := alice.newActivity("Follow", community.ApId)
		a["id"] = "http://local.test/activities/follow/1"
		a["actor"] = "http://local.test/u/admin"
		assert.ErrorIs(t, receive(t, f, alice, a), ErrRejected)
	})

	assert.Empty(t, sentActivities(t, f))
}

func TestReceiveFromBlockedInstance(t *testing.T) {
	remote := newRemoteInstance(t)
	f := newTestFederation(t, func(c *util.AppConfig) {
		c.Conf.Federation.Blocklist = []string{remote.Authority()}
	})
	community := createLocal(t, f, domain.GroupType, "main")
	alice := remote.addActor(t, "/u/alice", "Person")

	err := receive(t, f, alice, alice.newActivity("Follow", community.ApId))
	assert.ErrorIs(t, err, ErrBlocked)
	assert.Equal(t, http.StatusForbidden, StatusCode(err))
	assert.Zero(t, remote.hitCount("/u/alice"))
}

func TestReceiveMalformed(t *testing.T) {
	f := newTestFederation(t)
	remote := newRemoteInstance(t)
	alice := remote.addActor(t, "/u/alice", "Person")

	err := receive(t, f, alice, alice.newActivity("Travel", "somewhere"))
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
}

// page builds a post by author addressed to community.
func page(author *testActor, community string) map[string]any {
	return map[string]any{
		"id":           author.origin + "/post/" + uuid.NewString(),
		"type":         "Page",
		"attributedTo": author.id,
		"to":           []string{community, PublicAddress},
		"audience":     community,
		"name":         "Hello",
		"content":      "first post",
		"published":    time.Now().UTC().Format(time.RFC3339),
	}
}

func TestReceiveCreatePageIsAnnounced(t *testing.T) {
	f := newTestFederation(t)
	remote := newRemoteInstance(t)
	ctx := context.Background()

	community := createLocal(t, f, domain.GroupType, "main")
	alice := remote.addActor(t, "/u/alice", "Person")

	p := page(alice, community.ApId)
	create := alice.newActivity("Create", p)
	require.NoError(t, receive(t, f, alice, create))

	post, err := f.DB().ReadPostByApId(ctx, p["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "Hello", post.Name)
	assert.Equal(t, community.Id, post.CommunityId)
	assert.False(t, post.Local)

	announces := sentOfKind(t, f, "Announce")
	require.Len(t, announces, 1)
	require.NotNil(t, announces[0].SendCommunityFollowerOf)
	assert.Equal(t, community.Id, *announces[0].SendCommunityFollowerOf)
	assert.Contains(t, announces[0].Data, create["id"].(string))

	t.Run("vote", func(t *testing.T) {
		require.NoError(t, receive(t, f, alice, alice.newActivity("Like", p["id"])))
		score, err := f.DB().VoteScore(ctx, post.ApId)
		require.NoError(t, err)
		assert.EqualValues(t, 1, score)

		require.NoError(t, receive(t, f, alice, alice.newActivity("Dislike", p["id"])))
		score, err = f.DB().VoteScore(ctx, post.ApId)
		require.NoError(t, err)
		assert.EqualValues(t, -1, score)
	})

	t.Run("update by someone else", func(t *testing.T) {
		bob := remote.addActor(t, "/u/bob", "Person")
		edit := page(bob, community.ApId)
		edit["id"] = p["id"]
		err := receive(t, f, bob, bob.newActivity("Update", edit))
		assert.ErrorIs(t, err, ErrRejected)
	})

	t.Run("report", func(t *testing.T) {
		flag := alice.newActivity("Flag", p["id"])
		flag["summary"] = "spam"
		require.NoError(t, receive(t, f, alice, flag))
		report, err := f.DB().ReadReportByApId(ctx, flag["id"].(string))
		require.NoError(t, err)
		assert.Equal(t, "spam", report.Reason)
		assert.Equal(t, community.Id, report.CommunityId)
	})

	t.Run("delete by creator", func(t *testing.T) {
		require.NoError(t, receive(t, f, alice, alice.newActivity("Delete", p["id"])))
		deleted, err := f.DB().ReadPostByApId(ctx, post.ApId)
		require.NoError(t, err)
		assert.True(t, deleted.Deleted)
	})
}

func TestReceiveCreateFromBannedPerson(t *testing.T) {
	f := newTestFederation(t)
	remote := newRemoteInstance(t)
	ctx := context.Background()

	community := createLocal(t, f, domain.GroupType, "main")
	alice := remote.addActor(t, "/u/alice", "Person")
	require.NoError(t, receive(t, f, alice, alice.newActivity("Follow", community.ApId)))
	person, err := f.DB().ReadActorByApId(ctx, alice.id)
	require.NoError(t, err)
	require.NoError(t, f.DB().Ban(ctx, community.Id, person.Id))

	err = receive(t, f, alice, alice.newActivity("Create", page(alice, community.ApId)))
	assert.ErrorIs(t, err, ErrRejected)
	assert.Empty(t, sentOfKind(t, f, "Announce"))
}

func TestReceiveCreateNoteReply(t *testing.T) {
	f := newTestFederation(t)
	remote := newRemoteInstance(t)
	ctx := context.Background()

	community := createLocal(t, f, domain.GroupType, "main")
	admin := createLocal(t, f, domain.PersonType, "admin")
	post, err := f.CreateLocalPost(ctx, admin, community, "Local post", "", "body")
	require.NoError(t, err)

	alice := remote.addActor(t, "/u/alice", "Person")
	note := map[string]any{
		"id":           alice.origin + "/comment/1",
		"type":         "Note",
		"attributedTo": alice.id,
		"to":           []string{community.ApId, PublicAddress},
		"content":      "nice",
		"inReplyTo":    post.ApId,
	}
	require.NoError(t, receive(t, f, alice, alice.newActivity("Create", note)))

	comment, err := f.DB().ReadCommentByApId(ctx, note["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, post.Id, comment.PostId)
	assert.Nil(t, comment.ParentId)
}

func TestReceiveAnnounceFromRemoteCommunity(t *testing.T) {
	f := newTestFederation(t)
	remote := newRemoteInstance(t)
	ctx := context.Background()

	group := remote.addActor(t, "/c/news", "Group")
	alice := remote.addActor(t, "/u/alice", "Person")

	p := page(alice, group.id)
	inner := alice.newActivity("Create", p)
	announce := group.newActivity("Announce", inner)
	require.NoError(t, receive(t, f, group, announce))

	post, err := f.DB().ReadPostByApId(ctx, p["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "Hello", post.Name)

	received, err := f.DB().IsActivityReceived(ctx, inner["id"].(string))
	require.NoError(t, err)
	assert.True(t, received)

	// a second announce of the same activity changes nothing
	require.NoError(t, receive(t, f, group, group.newActivity("Announce", inner)))
	assert.Empty(t, sentActivities(t, f))

	t.Run("announce by a person", func(t *testing.T) {
		a := alice.newActivity("Announce", alice.newActivity("Create", page(alice, group.id)))
		assert.ErrorIs(t, receive(t, f, alice, a), ErrRejected)
	})

	t.Run("nested announce", func(t *testing.T) {
		a := group.newActivity("Announce", group.newActivity("Announce", inner))
		assert.ErrorIs(t, receive(t, f, group, a), ErrMalformed)
	})
}

func TestReceiveBlockBansAndAnnounces(t *testing.T) {
	f := newTestFederation(t)
	remote := newRemoteInstance(t)
	ctx := context.Background()

	community := createLocal(t, f, domain.GroupType, "main")
	mod := remote.addActor(t, "/u/mod", "Person")
	alice := remote.addActor(t, "/u/alice", "Person")
	require.NoError(t, receive(t, f, alice, alice.newActivity("Follow", community.ApId)))

	block := mod.newActivity("Block", alice.id)
	block["target"] = community.ApId
	assert.ErrorIs(t, receive(t, f, mod, block), ErrRejected, "not a moderator yet")

	modActor, err := f.DB().ReadActorByApId(ctx, mod.id)
	require.NoError(t, err)
	require.NoError(t, f.DB().AddModerator(ctx, community.Id, modActor.Id))

	block = mod.newActivity("Block", alice.id)
	block["target"] = community.ApId
	require.NoError(t, receive(t, f, mod, block))

	person, err := f.DB().ReadActorByApId(ctx, alice.id)
	require.NoError(t, err)
	banned, err := f.DB().IsBanned(ctx, community.Id, person.Id)
	require.NoError(t, err)
	assert.True(t, banned)
	count, err := f.DB().CountFollowers(ctx, community.Id)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Len(t, sentOfKind(t, f, "Announce"), 1)
}

func TestReceiveActorDeletesItself(t *testing.T) {
	f := newTestFederation(t)
	remote := newRemoteInstance(t)
	ctx := context.Background()

	community := createLocal(t, f, domain.GroupType, "main")
	alice := remote.addActor(t, "/u/alice", "Person")
	require.NoError(t, receive(t, f, alice, alice.newActivity("Follow", community.ApId)))

	require.NoError(t, receive(t, f, alice, alice.newActivity("Delete", alice.id)))
	actor, err := f.DB().ReadActorByApId(ctx, alice.id)
	require.NoError(t, err)
	assert.True(t, actor.Deleted)
}

func TestReceiveAcceptOfLocalFollow(t *testing.T) {
	f := newTestFederation(t)
	remote := newRemoteInstance(t)
	ctx := context.Background()

	group := remote.addActor(t, "/c/news", "Group")
	admin := createLocal(t, f, domain.PersonType, "admin")

	community, err := f.FollowCommunity(ctx, admin, group.id)
	require.NoError(t, err)
	rel, err := f.DB().ReadFollow(ctx, admin.Id, community.Id)
	require.NoError(t, err)
	assert.True(t, rel.Pending)

	follows := sentOfKind(t, f, "Follow")
	require.Len(t, follows, 1)
	assert.Equal(t, []string{group.doc.Inbox}, follows[0].SendInboxes)

	var follow map[string]any
	require.NoError(t, json.Unmarshal([]byte(follows[0].Data), &follow))
	require.NoError(t, receive(t, f, group, group.newActivity("Accept", follow)))

	rel, err = f.DB().ReadFollow(ctx, admin.Id, community.Id)
	require.NoError(t, err)
	assert.False(t, rel.Pending)

	t.Run("accept of a follow nobody sent", func(t *testing.T) {
		other := remote.addActor(t, "/c/other", "Group")
		fake := map[string]any{
			"id":     "http://local.test/activities/follow/x",
			"type":   "Follow",
			"actor":  admin.ApId,
			"object": other.id,
		}
		assert.ErrorIs(t, receive(t, f, other, other.newActivity("Accept", fake)), ErrRejected)
	})
}

func TestReceiveReplayNeedsValidSignature(t *testing.T) {
	f := newTestFederation(t)
	remote := newRemoteInstance(t)

	community := createLocal(t, f, domain.GroupType, "main")
	alice := remote.addActor(t, "/u/alice", "Person")
	follow := alice.newActivity("Follow", community.ApId)
	require.NoError(t, receive(t, f, alice, follow))

	req, body := inboxRequest(t, alice, follow)
	req.Header.Set("Signature", `keyId="`+alice.id+`#main-key",algorithm="rsa-sha256",headers="(request-target) host date digest",signature="AAAA"`)
	err := f.ReceiveActivity(context.Background(), req, body)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
}

func TestReceiveLogsRejections(t *testing.T) {
	f := newTestFederation(t)
	core, logs := observer.New(zap.WarnLevel)
	f.logger = zap.New(core)
	remote := newRemoteInstance(t)
	other := newRemoteInstance(t)

	community := createLocal(t, f, domain.GroupType, "main")
	alice := remote.addActor(t, "/u/alice", "Person")
	mallory := other.addActor(t, "/u/mallory", "Person")

	follow := alice.newActivity("Follow", community.ApId)
	req, body := inboxRequest(t, mallory, follow)
	require.ErrorIs(t, f.ReceiveActivity(context.Background(), req, body), ErrUnauthorized)

	rejected := logs.FilterMessage("activity rejected").All()
	require.Len(t, rejected, 1)
	fields := rejected[0].ContextMap()
	assert.Equal(t, follow["id"], fields["activity"])
	assert.Equal(t, alice.id, fields["actor"])
	assert.Equal(t, zap.WarnLevel, rejected[0].Level)

	// accepted activities are not warned about
	require.NoError(t, receive(t, f, alice, follow))
	assert.Equal(t, 1, logs.FilterMessage("activity rejected").Len())
}

func TestReceiveCreateCannotTakeOverContent(t *testing.T) {
	f := newTestFederation(t)
	remote := newRemoteInstance(t)
	ctx := context.Background()

	community := createLocal(t, f, domain.GroupType, "main")
	alice := remote.addActor(t, "/u/alice", "Person")
	bob := remote.addActor(t, "/u/bob", "Person")

	p := page(alice, community.ApId)
	require.NoError(t, receive(t, f, alice, alice.newActivity("Create", p)))

	hijack := page(bob, community.ApId)
	hijack["id"] = p["id"]
	hijack["name"] = "Hijacked"
	assert.ErrorIs(t, receive(t, f, bob, bob.newActivity("Create", hijack)), ErrRejected)

	post, err := f.DB().ReadPostByApId(ctx, p["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "Hello", post.Name)

	// the author may send its Create again
	require.NoError(t, receive(t, f, alice, alice.newActivity("Create", p)))
}
