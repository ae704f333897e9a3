package web

import (
	"context"
	"net/http"

	"github.com/deemkeen/lemmings/cache"
	"github.com/deemkeen/lemmings/domain"
	"github.com/deemkeen/lemmings/util"
	"github.com/gin-gonic/gin"
)

const (
	nodeInfoSchema   = "http://nodeinfo.diaspora.software/ns/schema/2.0"
	nodeInfoCacheKey = "nodeinfo"
)

type nodeInfoSoftware struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type nodeInfoUsage struct {
	Users struct {
		Total int64 `json:"total"`
	} `json:"users"`
	LocalPosts    int64 `json:"localPosts"`
	LocalComments int64 `json:"localComments"`
}

// NodeInfo is the 2.0 document describing this instance.
type NodeInfo struct {
	Version           string           `json:"version"`
	Software          nodeInfoSoftware `json:"software"`
	Protocols         []string         `json:"protocols"`
	Usage             nodeInfoUsage    `json:"usage"`
	OpenRegistrations bool             `json:"openRegistrations"`
}

func (s *Server) handleNodeInfoLinks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"links": []gin.H{{"rel": nodeInfoSchema, "href": s.fed.BaseURL() + "/nodeinfo/2.0.json"}},
	})
}

func (s *Server) handleNodeInfo(c *gin.Context) {
	info, err := cache.ReadThrough(c.Request.Context(), s.cache, nodeInfoCacheKey, s.loadNodeInfo)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) loadNodeInfo(ctx context.Context) (NodeInfo, error) {
	info := NodeInfo{
		Version:   "2.0",
		Software:  nodeInfoSoftware{Name: util.Name, Version: util.GetVersion()},
		Protocols: []string{"activitypub"},
	}
	var err error
	if info.Usage.Users.Total, err = s.db.CountLocalActors(ctx, domain.PersonType); err != nil {
		return info, err
	}
	if info.Usage.LocalPosts, err = s.db.CountLocalPosts(ctx); err != nil {
		return info, err
	}
	if info.Usage.LocalComments, err = s.db.CountLocalComments(ctx); err != nil {
		return info, err
	}
	return info, nil
}
