package web

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the gin engine with every federation endpoint.
func NewRouter(s *Server) *gin.Engine {
	if !s.conf.Conf.Federation.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	g := gin.New()
	g.Use(gin.Recovery(), RequestLogger(s.logger))
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Max 1MB request body size for ActivityPub activities
	maxBodySize := MaxBytesMiddleware(MaxInboxBody)
	g.POST("/inbox", maxBodySize, s.handleInbox)
	g.POST("/u/:name/inbox", maxBodySize, s.requireLocalActor(personType), s.handleInbox)
	g.POST("/c/:name/inbox", maxBodySize, s.requireLocalActor(groupType), s.handleInbox)

	ap := g.Group("/", RequireActivityPub())
	ap.GET("/u/:name", s.handleActor(personType))
	ap.GET("/c/:name", s.handleActor(groupType))
	ap.GET("/u/:name/outbox", s.handleOutbox(personType))
	ap.GET("/c/:name/outbox", s.handleOutbox(groupType))
	ap.GET("/c/:name/followers", s.handleFollowers)
	ap.GET("/c/:name/moderators", s.handleModerators)
	ap.GET("/post/:id", s.handlePost)
	ap.GET("/comment/:id", s.handleComment)
	ap.GET("/activities/:kind/:id", s.handleActivity)

	g.GET("/.well-known/webfinger", s.handleWebfinger)
	g.GET("/.well-known/nodeinfo", s.handleNodeInfoLinks)
	g.GET("/nodeinfo/2.0.json", s.handleNodeInfo)
	g.GET("/feeds/c/:name", s.handleCommunityFeed)

	if s.conf.Conf.Metrics && s.gatherer != nil {
		g.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	return g
}
