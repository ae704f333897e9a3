package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/lemmings/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/feeds"
)

// feedSize is how many posts a community feed carries.
const feedSize = 20

// GetCommunityRSS renders the newest posts of a local community.
func (s *Server) GetCommunityRSS(ctx context.Context, community *domain.Actor) (string, error) {
	posts, err := s.db.ReadPostsByCommunity(ctx, community.Id, feedSize)
	if err != nil {
		return "", err
	}

	title := community.DisplayName
	if title == "" {
		title = community.Name
	}
	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s - %s", title, s.fed.Domain()),
		Link:        &feeds.Link{Href: community.ApId},
		Description: community.Summary,
		Created:     time.Now(),
	}

	for _, post := range posts {
		author := "unknown"
		if creator, err := s.db.ReadActorById(ctx, post.CreatorId); err == nil {
			author = creator.Name + "@" + creator.Domain
		}
		link := post.URL
		if link == "" {
			link = post.ApId
		}
		feed.Items = append(feed.Items, &feeds.Item{
			Id:      post.ApId,
			Title:   post.Name,
			Link:    &feeds.Link{Href: link},
			Content: post.Body,
			Author:  &feeds.Author{Name: author},
			Created: post.Published,
		})
	}
	return feed.ToRss()
}

func (s *Server) handleCommunityFeed(c *gin.Context) {
	community, ok := s.localActor(c, groupType)
	if !ok {
		return
	}
	rss, err := s.GetCommunityRSS(c.Request.Context(), community)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/xml; charset=utf-8", []byte(rss))
}
