package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/deemkeen/lemmings/domain"
)

// Activity is the closed set of activities this instance understands.
// ParseActivity is the only way to obtain one from the wire.
type Activity interface {
	ID() string
	Actor() ActorRef
	// Verify checks that the activity is allowed. It may resolve objects.
	Verify(ctx context.Context, d *Data) error
	// Receive applies a verified activity.
	Receive(ctx context.Context, d *Data) error
	// Raw is the document the activity was parsed from, nil for activities
	// built here.
	Raw() json.RawMessage

	kindName() string
	sealed()
}

// base holds the fields every activity has.
type base struct {
	Context any      `json:"@context,omitempty"`
	Id      string   `json:"id"`
	Type    string   `json:"type"`
	ActorId ActorRef `json:"actor"`
	To      Audience `json:"to,omitempty"`
	Cc      Audience `json:"cc,omitempty"`

	raw json.RawMessage
}

func (b *base) ID() string       { return b.Id }
func (b *base) Actor() ActorRef  { return b.ActorId }
func (b *base) sealed()          {}
func (b *base) kindName() string { return b.Type }

func (b *base) Raw() json.RawMessage { return b.raw }

func (b *base) validate() error {
	u, err := url.Parse(b.Id)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: invalid activity id %q", ErrMalformed, b.Id)
	}
	if b.ActorId.IsZero() {
		return fmt.Errorf("%w: activity %s has no actor", ErrMalformed, b.Id)
	}
	return nil
}

type rawCarrier interface {
	setRaw(json.RawMessage)
	validate() error
}

func (b *base) setRaw(raw json.RawMessage) { b.raw = raw }

// ParseActivity decodes an activity, dispatching on its type and, where one
// type covers several variants, on the type of its object.
func ParseActivity(raw []byte) (Activity, error) {
	var head struct {
		Type   string          `json:"type"`
		Object json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var a Activity
	switch head.Type {
	case "Follow":
		a = &Follow{}
	case "Accept":
		a = &Accept{}
	case "Reject":
		a = &Reject{}
	case "Undo":
		a = &Undo{}
	case "Like", "Dislike":
		a = &Vote{}
	case "Create", "Update":
		inner, err := peekObject(head.Object)
		if err != nil {
			return nil, err
		}
		switch inner.Type {
		case "Page":
			a = &CreateOrUpdatePage{}
		case "Note":
			a = &CreateOrUpdateNote{}
		default:
			return nil, fmt.Errorf("%w: cannot %s a %q", ErrMalformed, head.Type, inner.Type)
		}
	case "Delete":
		a = &Delete{}
	case "Flag":
		a = &Report{}
	case "Resolve":
		a = &ResolveReport{}
	case "Block":
		a = &Block{}
	case "Announce":
		a = &Announce{}
	default:
		return nil, fmt.Errorf("%w: unsupported activity type %q", ErrMalformed, head.Type)
	}

	if err := json.Unmarshal(raw, a); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, head.Type, err)
	}
	c := a.(rawCarrier)
	c.setRaw(append(json.RawMessage(nil), raw...))
	if err := c.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// checkDomains rejects activities whose id lives on another instance than
// their actor.
func checkDomains(a Activity) error {
	if !sameAuthority(a.ID(), a.Actor().String()) {
		return fmt.Errorf("%w: activity %s sent by actor %s of another instance", ErrUnauthorized, a.ID(), a.Actor())
	}
	return nil
}

// checkNotBanned rejects actors banned from a community.
func checkNotBanned(ctx context.Context, d *Data, community, actor *domain.Actor) error {
	banned, err := d.db.IsBanned(ctx, community.Id, actor.Id)
	if err != nil {
		return err
	}
	if banned {
		return fmt.Errorf("%w: %s is banned from %s", ErrRejected, actor.ApId, community.ApId)
	}
	return nil
}

// checkModerator accepts the community itself and its moderators.
func checkModerator(ctx context.Context, d *Data, community, actor *domain.Actor) error {
	if community.Id == actor.Id {
		return nil
	}
	mod, err := d.db.IsModerator(ctx, community.Id, actor.Id)
	if err != nil {
		return err
	}
	if !mod {
		return fmt.Errorf("%w: %s is not a moderator of %s", ErrRejected, actor.ApId, community.ApId)
	}
	return nil
}

// announceToFollowers re-broadcasts an activity a remote actor sent to a
// local community.
func announceToFollowers(ctx context.Context, d *Data, community *domain.Actor, a Activity) error {
	if !community.Local || d.IsLocalURL(a.Actor().String()) {
		return nil
	}
	_, err := d.SendAnnounce(ctx, community, a.Raw())
	return err
}
