package web

import (
	"net/http"

	"github.com/deemkeen/lemmings/activitypub"
	"github.com/deemkeen/lemmings/domain"
	"github.com/gin-gonic/gin"
)

// outboxSize is how many recent posts a community outbox lists.
const outboxSize = 20

// pageCollection is an OrderedCollection with embedded posts.
type pageCollection struct {
	Context      any                      `json:"@context"`
	ID           string                   `json:"id"`
	Type         string                   `json:"type"`
	TotalItems   int                      `json:"totalItems"`
	OrderedItems []activitypub.PageObject `json:"orderedItems"`
}

// handleOutbox lists the newest posts of a community so other instances
// can backfill it. Person outboxes are always empty.
func (s *Server) handleOutbox(actorType domain.ActorType) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := s.localActor(c, actorType)
		if !ok {
			return
		}
		outboxURL := a.ApId + "/outbox"
		if !a.IsCommunity() || a.Deleted {
			writeActivityJSON(c, http.StatusOK, activitypub.CountCollection(outboxURL, 0))
			return
		}

		ctx := c.Request.Context()
		posts, err := s.db.ReadPostsByCommunity(ctx, a.Id, outboxSize)
		if err != nil {
			s.fail(c, err)
			return
		}
		items := make([]activitypub.PageObject, 0, len(posts))
		for i := range posts {
			if posts[i].Deleted {
				continue
			}
			creator, err := s.db.ReadActorById(ctx, posts[i].CreatorId)
			if err != nil {
				s.fail(c, err)
				return
			}
			items = append(items, s.fed.PostObject(&posts[i], creator, a))
		}
		writeActivityJSON(c, http.StatusOK, pageCollection{
			Context:      activitypub.Context,
			ID:           outboxURL,
			Type:         "OrderedCollection",
			TotalItems:   len(items),
			OrderedItems: items,
		})
	}
}
