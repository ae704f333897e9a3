package web

import (
	"net/http"
	"testing"

	"github.com/deemkeen/lemmings/activitypub"
	"github.com/deemkeen/lemmings/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAcct(t *testing.T) {
	tests := []struct {
		resource string
		name     string
		host     string
		ok       bool
	}{
		{"acct:alice@example.com", "alice", "example.com", true},
		{"acct:alice@Example.COM", "alice", "example.com", true},
		{"acct:alice@localhost:8536", "alice", "localhost:8536", true},
		{"alice@example.com", "", "", false},
		{"acct:alice", "", "", false},
		{"acct:@example.com", "", "", false},
		{"acct:alice@", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		name, host, ok := parseAcct(tt.resource)
		assert.Equal(t, tt.ok, ok, tt.resource)
		if tt.ok {
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.host, host)
		}
	}
}

func TestWebfinger(t *testing.T) {
	ti := newTestInstance(t)
	alice := ti.createLocal(t, domain.PersonType, "alice")
	community := ti.createLocal(t, domain.GroupType, "main")
	domainName := ti.fed.Domain()

	resp := ti.get(t, "/.well-known/webfinger?resource=acct:alice@"+domainName, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/jrd+json")
	jrd := decode[webfingerResponse](t, resp)
	assert.Equal(t, "acct:alice@"+domainName, jrd.Subject)
	require.Len(t, jrd.Links, 2)
	self := jrd.Links[1]
	assert.Equal(t, "self", self.Rel)
	assert.Equal(t, activitypub.ContentType, self.Type)
	assert.Equal(t, alice.ApId, self.Href)
	assert.Equal(t, "Person", self.Properties["https://www.w3.org/ns/activitystreams#type"])

	jrd = decode[webfingerResponse](t, ti.get(t, "/.well-known/webfinger?resource=acct:main@"+domainName, ""))
	require.Len(t, jrd.Links, 2)
	assert.Equal(t, community.ApId, jrd.Links[1].Href)
	assert.Equal(t, "Group", jrd.Links[1].Properties["https://www.w3.org/ns/activitystreams#type"])

	for _, resource := range []string{
		"acct:alice@other.example",
		"acct:nobody@" + domainName,
		"alice",
		"",
	} {
		resp := ti.get(t, "/.well-known/webfinger?resource="+resource, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, resource)
		assert.Equal(t, "Not Found", decode[map[string]string](t, resp)["detail"])
	}
}
