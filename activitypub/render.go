package activitypub

import (
	"strings"

	"github.com/deemkeen/lemmings/domain"
)

// ActorDocument renders a local person or community.
func (f *Federation) ActorDocument(a *domain.Actor) ActorObject {
	created := a.CreatedAt
	return ActorObject{
		Context:           Context,
		ID:                a.ApId,
		Type:              string(a.Type),
		PreferredUsername: a.Name,
		Name:              a.DisplayName,
		Summary:           a.Summary,
		Inbox:             a.InboxURL,
		Outbox:            a.ApId + "/outbox",
		Followers:         a.FollowersURL,
		Moderators:        a.ModeratorsURL,
		Endpoints:         &Endpoints{SharedInbox: a.SharedInboxURL},
		PublicKey: PublicKey{
			ID:           a.KeyId(),
			Owner:        a.ApId,
			PublicKeyPem: a.PublicKeyPem,
		},
		Published: &created,
	}
}

// CollectionOf renders an OrderedCollection of actor ids.
func CollectionOf(id string, actors []domain.Actor) Collection {
	items := make([]IRI, 0, len(actors))
	for _, a := range actors {
		items = append(items, IRI(a.ApId))
	}
	return Collection{
		Context:      Context,
		ID:           id,
		Type:         "OrderedCollection",
		TotalItems:   len(items),
		OrderedItems: items,
	}
}

// CountCollection renders a collection that only exposes its size.
func CountCollection(id string, total int) Collection {
	return Collection{Context: Context, ID: id, Type: "OrderedCollection", TotalItems: total, OrderedItems: []IRI{}}
}

// activityPath is the path under /activities that Send gives to ids of
// the given kind.
func activityPath(kind string) string {
	return "/activities/" + strings.ToLower(kind) + "/"
}
