package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/deemkeen/lemmings/activitypub"
	"github.com/deemkeen/lemmings/db"
	"github.com/deemkeen/lemmings/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	personType = domain.PersonType
	groupType  = domain.GroupType
)

// writeActivityJSON renders v with the ActivityPub content type.
func writeActivityJSON(c *gin.Context, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(status, activitypub.ContentType+"; charset=utf-8", data)
}

// fail answers 404 for missing rows and 500 for everything else.
func (s *Server) fail(c *gin.Context, err error) {
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	s.logger.Error("cannot serve object", zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func (s *Server) gone(c *gin.Context, id, formerType string) {
	writeActivityJSON(c, http.StatusGone, activitypub.NewTombstone(id, formerType, time.Now()))
}

func (s *Server) localActor(c *gin.Context, actorType domain.ActorType) (*domain.Actor, bool) {
	a, err := s.db.ReadLocalActor(c.Request.Context(), actorType, c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	return a, true
}

// requireLocalActor 404s requests for actors this instance does not host.
func (s *Server) requireLocalActor(actorType domain.ActorType) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := s.localActor(c, actorType); !ok {
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) handleActor(actorType domain.ActorType) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := s.localActor(c, actorType)
		if !ok {
			return
		}
		if a.Deleted {
			s.gone(c, a.ApId, string(a.Type))
			return
		}
		writeActivityJSON(c, http.StatusOK, s.fed.ActorDocument(a))
	}
}

func (s *Server) handleFollowers(c *gin.Context) {
	community, ok := s.localActor(c, groupType)
	if !ok {
		return
	}
	total, err := s.db.CountFollowers(c.Request.Context(), community.Id)
	if err != nil {
		s.fail(c, err)
		return
	}
	writeActivityJSON(c, http.StatusOK, activitypub.CountCollection(community.FollowersURL, int(total)))
}

func (s *Server) handleModerators(c *gin.Context) {
	community, ok := s.localActor(c, groupType)
	if !ok {
		return
	}
	mods, err := s.db.ReadModerators(c.Request.Context(), community.Id)
	if err != nil {
		s.fail(c, err)
		return
	}
	writeActivityJSON(c, http.StatusOK, activitypub.CollectionOf(community.ModeratorsURL, mods))
}
