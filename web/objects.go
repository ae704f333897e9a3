package web

import (
	"net/http"

	"github.com/deemkeen/lemmings/activitypub"
	"github.com/gin-gonic/gin"
)

func (s *Server) handlePost(c *gin.Context) {
	ctx := c.Request.Context()
	post, err := s.db.ReadPostByApId(ctx, s.fed.BaseURL()+"/post/"+c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if post.Deleted {
		s.gone(c, post.ApId, "Page")
		return
	}
	creator, err := s.db.ReadActorById(ctx, post.CreatorId)
	if err != nil {
		s.fail(c, err)
		return
	}
	community, err := s.db.ReadActorById(ctx, post.CommunityId)
	if err != nil {
		s.fail(c, err)
		return
	}
	page := s.fed.PostObject(post, creator, community)
	page.Context = activitypub.Context
	writeActivityJSON(c, http.StatusOK, page)
}

func (s *Server) handleComment(c *gin.Context) {
	ctx := c.Request.Context()
	comment, err := s.db.ReadCommentByApId(ctx, s.fed.BaseURL()+"/comment/"+c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if comment.Deleted {
		s.gone(c, comment.ApId, "Note")
		return
	}
	creator, err := s.db.ReadActorById(ctx, comment.CreatorId)
	if err != nil {
		s.fail(c, err)
		return
	}
	post, err := s.db.ReadPostById(ctx, comment.PostId)
	if err != nil {
		s.fail(c, err)
		return
	}
	community, err := s.db.ReadActorById(ctx, post.CommunityId)
	if err != nil {
		s.fail(c, err)
		return
	}
	parent, err := s.fed.CommentParent(ctx, comment)
	if err != nil {
		s.fail(c, err)
		return
	}
	note := s.fed.CommentObject(comment, creator, community, parent)
	note.Context = activitypub.Context
	writeActivityJSON(c, http.StatusOK, note)
}

// handleActivity serves a sent activity by id. Reports stay private.
func (s *Server) handleActivity(c *gin.Context) {
	id := s.fed.BaseURL() + "/activities/" + c.Param("kind") + "/" + c.Param("id")
	a, err := s.db.ReadSentActivityByApId(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if a.Sensitive {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Data(http.StatusOK, activitypub.ContentType+"; charset=utf-8", []byte(a.Data))
}
