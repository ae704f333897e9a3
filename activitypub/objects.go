package activitypub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"strings"
	"time"
)

const (
	ContentType   = "application/activity+json"
	LDContentType = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
	PublicAddress = "https://www.w3.org/ns/activitystreams#Public"

	// MaxBodySize limits inbox payloads and fetched documents.
	MaxBodySize = 1 << 20
)

// Context is the @context attached to every document this instance serves.
var Context = []any{
	"https://www.w3.org/ns/activitystreams",
	"https://w3id.org/security/v1",
}

// AcceptsActivityPub reports whether an Accept header asks for ActivityPub
// JSON rather than HTML.
func AcceptsActivityPub(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mediaType {
		case "application/activity+json":
			return true
		case "application/ld+json":
			if p, ok := params["profile"]; !ok || strings.Contains(p, "activitystreams") {
				return true
			}
		}
	}
	return false
}

// IRI is an object reference that may be serialized either as a bare string
// or as an embedded object with an id.
type IRI string

func (i *IRI) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*i = IRI(obj.ID)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*i = IRI(s)
	return nil
}

// Audience is a to/cc style field: a single IRI or a list of them.
type Audience []string

func (a *Audience) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var list []IRI
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		*a = make(Audience, 0, len(list))
		for _, i := range list {
			*a = append(*a, string(i))
		}
		return nil
	}
	var one IRI
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*a = Audience{string(one)}
	return nil
}

func (a Audience) Contains(iri string) bool {
	for _, v := range a {
		if v == iri {
			return true
		}
	}
	return false
}

type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

type Endpoints struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

// ActorObject is a Person or a Group.
type ActorObject struct {
	Context           any        `json:"@context,omitempty"`
	ID                string     `json:"id"`
	Type              string     `json:"type"`
	PreferredUsername string     `json:"preferredUsername"`
	Name              string     `json:"name,omitempty"`
	Summary           string     `json:"summary,omitempty"`
	Inbox             string     `json:"inbox"`
	Outbox            string     `json:"outbox,omitempty"`
	Followers         string     `json:"followers,omitempty"`
	Moderators        string     `json:"attributedTo,omitempty"`
	Endpoints         *Endpoints `json:"endpoints,omitempty"`
	PublicKey         PublicKey  `json:"publicKey"`
	Published         *time.Time `json:"published,omitempty"`
}

// PageObject is a post.
type PageObject struct {
	Context      any        `json:"@context,omitempty"`
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	AttributedTo IRI        `json:"attributedTo"`
	To           Audience   `json:"to,omitempty"`
	Cc           Audience   `json:"cc,omitempty"`
	Audience     IRI        `json:"audience,omitempty"`
	Name         string     `json:"name"`
	Content      string     `json:"content,omitempty"`
	MediaType    string     `json:"mediaType,omitempty"`
	URL          string     `json:"url,omitempty"`
	Published    *time.Time `json:"published,omitempty"`
	Updated      *time.Time `json:"updated,omitempty"`
}

// Community is the audience, or the first non public addressee.
func (p *PageObject) Community() string {
	if p.Audience != "" {
		return string(p.Audience)
	}
	for _, to := range append(append(Audience{}, p.To...), p.Cc...) {
		if to != PublicAddress && !strings.HasSuffix(to, "/followers") {
			return to
		}
	}
	return ""
}

// NoteObject is a comment.
type NoteObject struct {
	Context      any        `json:"@context,omitempty"`
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	AttributedTo IRI        `json:"attributedTo"`
	To           Audience   `json:"to,omitempty"`
	Cc           Audience   `json:"cc,omitempty"`
	Audience     IRI        `json:"audience,omitempty"`
	Content      string     `json:"content"`
	MediaType    string     `json:"mediaType,omitempty"`
	InReplyTo    IRI        `json:"inReplyTo"`
	Published    *time.Time `json:"published,omitempty"`
	Updated      *time.Time `json:"updated,omitempty"`
}

type Tombstone struct {
	Context    any        `json:"@context,omitempty"`
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	FormerType string     `json:"formerType,omitempty"`
	Deleted    *time.Time `json:"deleted,omitempty"`
}

func NewTombstone(id, formerType string, deleted time.Time) *Tombstone {
	return &Tombstone{Context: Context, ID: id, Type: "Tombstone", FormerType: formerType, Deleted: &deleted}
}

// Collection is served for followers and moderators.
type Collection struct {
	Context      any    `json:"@context,omitempty"`
	ID           string `json:"id"`
	Type         string `json:"type"`
	TotalItems   int    `json:"totalItems"`
	OrderedItems []IRI  `json:"orderedItems"`
}

// objectHead is the part of any document needed to route it.
type objectHead struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

func peekObject(raw []byte) (objectHead, error) {
	var head objectHead
	if err := json.Unmarshal(raw, &head); err != nil {
		return head, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return head, nil
}

// withContext marshals v and adds the @context field when it is missing.
func withContext(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if _, ok := doc["@context"]; !ok {
		ctx, _ := json.Marshal(Context)
		doc["@context"] = ctx
	}
	return json.Marshal(doc)
}
