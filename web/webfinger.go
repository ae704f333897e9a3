package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/deemkeen/lemmings/activitypub"
	"github.com/deemkeen/lemmings/db"
	"github.com/deemkeen/lemmings/domain"
	"github.com/gin-gonic/gin"
)

const jrdContentType = "application/jrd+json; charset=utf-8"

type webfingerLink struct {
	Rel        string            `json:"rel"`
	Type       string            `json:"type,omitempty"`
	Href       string            `json:"href"`
	Properties map[string]string `json:"properties,omitempty"`
}

type webfingerResponse struct {
	Subject string          `json:"subject"`
	Links   []webfingerLink `json:"links"`
}

func GetWebFingerNotFound() gin.H {
	return gin.H{"detail": "Not Found"}
}

// parseAcct splits "acct:name@domain" into its parts.
func parseAcct(resource string) (name, host string, ok bool) {
	if !strings.HasPrefix(resource, "acct:") {
		return "", "", false
	}
	name, host, ok = strings.Cut(strings.TrimPrefix(resource, "acct:"), "@")
	return name, strings.ToLower(host), ok && name != "" && host != ""
}

// handleWebfinger resolves local persons and communities. A name that is
// both returns both links, the person first.
func (s *Server) handleWebfinger(c *gin.Context) {
	name, host, ok := parseAcct(c.Query("resource"))
	if !ok || host != s.fed.Domain() {
		c.JSON(http.StatusNotFound, GetWebFingerNotFound())
		return
	}

	resp := webfingerResponse{Subject: "acct:" + name + "@" + s.fed.Domain()}
	for _, t := range []domain.ActorType{personType, groupType} {
		a, err := s.db.ReadLocalActor(c.Request.Context(), t, name)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			s.fail(c, err)
			return
		}
		if a.Deleted {
			continue
		}
		resp.Links = append(resp.Links,
			webfingerLink{Rel: "http://webfinger.net/rel/profile-page", Type: "text/html", Href: a.ApId},
			webfingerLink{
				Rel:        "self",
				Type:       activitypub.ContentType,
				Href:       a.ApId,
				Properties: map[string]string{"https://www.w3.org/ns/activitystreams#type": string(a.Type)},
			})
	}
	if len(resp.Links) == 0 {
		c.JSON(http.StatusNotFound, GetWebFingerNotFound())
		return
	}
	c.Header("Content-Type", jrdContentType)
	c.JSON(http.StatusOK, resp)
}
