package activitypub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/deemkeen/lemmings/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiveAnnounceOfLocalActivity(t *testing.T) {
	f := newTestFederation(t)
	remote := newRemoteInstance(t)
	ctx := context.Background()

	community := createLocal(t, f, domain.GroupType, "main")
	admin := createLocal(t, f, domain.PersonType, "admin")
	post, err := f.CreateLocalPost(ctx, admin, community, "Local post", "", "body")
	require.NoError(t, err)
	group := remote.addActor(t, "/c/evil", "Group")

	t.Run("echo of a sent activity", func(t *testing.T) {
		creates := sentOfKind(t, f, "Create")
		require.Len(t, creates, 1)
		var create map[string]any
		require.NoError(t, json.Unmarshal([]byte(creates[0].Data), &create))

		before := len(sentActivities(t, f))
		require.NoError(t, receive(t, f, group, group.newActivity("Announce", create)))
		assert.Len(t, sentActivities(t, f), before)
	})

	t.Run("forged", func(t *testing.T) {
		forged := map[string]any{
			"id":     "http://local.test/activities/delete/1",
			"type":   "Delete",
			"actor":  admin.ApId,
			"object": post.ApId,
		}
		err := receive(t, f, group, group.newActivity("Announce", forged))
		assert.ErrorIs(t, err, ErrRejected)

		got, err := f.DB().ReadPostByApId(ctx, post.ApId)
		require.NoError(t, err)
		assert.False(t, got.Deleted)
	})
}

func TestReceiveAnnounceFromAnotherInstance(t *testing.T) {
	f := newTestFederation(t)
	remote := newRemoteInstance(t)
	other := newRemoteInstance(t)
	ctx := context.Background()

	community := createLocal(t, f, domain.GroupType, "main")
	group := remote.addActor(t, "/c/news", "Group")
	bob := other.addActor(t, "/u/bob", "Person")

	p := page(bob, community.ApId)
	require.NoError(t, receive(t, f, bob, bob.newActivity("Create", p)))
	postId := p["id"].(string)

	t.Run("not served by its origin", func(t *testing.T) {
		del := bob.newActivity("Delete", postId)
		err := receive(t, f, group, group.newActivity("Announce", del))
		assert.ErrorIs(t, err, ErrNotFound)

		post, err := f.DB().ReadPostByApId(ctx, postId)
		require.NoError(t, err)
		assert.False(t, post.Deleted)
	})

	t.Run("served by its origin", func(t *testing.T) {
		del := bob.newActivity("Delete", postId)
		path := other.pathOf(del["id"].(string))
		other.serve(t, path, del)

		require.NoError(t, receive(t, f, group, group.newActivity("Announce", del)))
		assert.Equal(t, 1, other.hitCount(path))

		post, err := f.DB().ReadPostByApId(ctx, postId)
		require.NoError(t, err)
		assert.True(t, post.Deleted)
	})
}

func TestReceiveAnnounceCopyDiffersFromOrigin(t *testing.T) {
	f := newTestFederation(t)
	remote := newRemoteInstance(t)
	other := newRemoteInstance(t)
	ctx := context.Background()

	community := createLocal(t, f, domain.GroupType, "main")
	group := remote.addActor(t, "/c/news", "Group")
	bob := other.addActor(t, "/u/bob", "Person")

	p := page(bob, community.ApId)
	create := bob.newActivity("Create", p)
	other.serve(t, other.pathOf(create["id"].(string)), create)

	altered := page(bob, community.ApId)
	altered["id"] = p["id"]
	altered["name"] = "Altered"
	copied := map[string]any{}
	for k, v := range create {
		copied[k] = v
	}
	copied["object"] = altered

	require.NoError(t, receive(t, f, group, group.newActivity("Announce", copied)))
	post, err := f.DB().ReadPostByApId(ctx, p["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "Hello", post.Name)
}

func TestReceiveAnnounceOfReceivedActivity(t *testing.T) {
	f := newTestFederation(t)
	remote := newRemoteInstance(t)
	ctx := context.Background()

	group := remote.addActor(t, "/c/news", "Group")
	alice := remote.addActor(t, "/u/alice", "Person")

	p := page(alice, group.id)
	inner := alice.newActivity("Create", p)
	require.NoError(t, receive(t, f, group, group.newActivity("Announce", inner)))

	edited := page(alice, group.id)
	edited["id"] = p["id"]
	edited["name"] = "Edited"
	inner["object"] = edited
	require.NoError(t, receive(t, f, group, group.newActivity("Announce", inner)))

	post, err := f.DB().ReadPostByApId(ctx, p["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "Hello", post.Name)
}
