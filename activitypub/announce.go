package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/deemkeen/lemmings/db"
	"go.uber.org/zap"
)

// Announce is a community re-broadcasting an activity to its followers.
type Announce struct {
	base
	Object json.RawMessage `json:"object"`

	inner     Activity
	duplicate bool
}

func (a *Announce) UnmarshalJSON(b []byte) error {
	type plain Announce
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*a = Announce(p)
	inner, err := ParseActivity(a.Object)
	if err != nil {
		return err
	}
	if _, nested := inner.(*Announce); nested {
		return fmt.Errorf("%w: nested announce", ErrMalformed)
	}
	a.inner = inner
	return nil
}

// Inner is the announced activity.
func (a *Announce) Inner() Activity {
	return a.inner
}

func (a *Announce) Verify(ctx context.Context, d *Data) error {
	announcer, err := a.ActorId.Dereference(ctx, d)
	if err != nil {
		return err
	}
	if !announcer.IsCommunity() {
		return fmt.Errorf("%w: only communities announce, %s is a %s", ErrRejected, announcer.ApId, announcer.Type)
	}
	if err := checkDomains(a.inner); err != nil {
		return err
	}
	if d.IsLocalURL(a.inner.ID()) || d.IsLocalURL(a.inner.Actor().String()) {
		return a.verifyEcho(ctx, d)
	}
	if err := d.CheckURL(a.inner.Actor().String()); err != nil {
		return err
	}
	seen, err := d.db.IsActivityReceived(ctx, a.inner.ID())
	if err != nil {
		return err
	}
	if seen {
		a.duplicate = true
		return nil
	}
	if !sameAuthority(a.inner.ID(), announcer.ApId) {
		// only the origin can vouch for an activity of another instance
		if err := a.fetchInner(ctx, d); err != nil {
			return err
		}
	}
	if _, err := a.inner.Actor().Dereference(ctx, d); err != nil {
		return err
	}
	return a.inner.Verify(ctx, d)
}

// verifyEcho accepts a community announcing one of our own activities back
// to us as a no-op. Anything else claiming to come from here is forged.
func (a *Announce) verifyEcho(ctx context.Context, d *Data) error {
	_, err := d.db.ReadSentActivityByApId(ctx, a.inner.ID())
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: announced activity %s claims to come from this instance", ErrRejected, a.inner.ID())
	}
	if err != nil {
		return err
	}
	a.duplicate = true
	return nil
}

// fetchInner replaces the embedded activity with the copy served by its
// own instance.
func (a *Announce) fetchInner(ctx context.Context, d *Data) error {
	id := a.inner.ID()
	if err := d.budget.Spend(); err != nil {
		return err
	}
	if err := d.CheckURL(id); err != nil {
		return err
	}
	body, err := d.fetchDocument(ctx, id)
	if err != nil {
		return err
	}
	fetched, err := ParseActivity(body)
	if err != nil {
		return err
	}
	if fetched.ID() != id {
		return fmt.Errorf("%w: fetched %s but got activity %q", ErrUnauthorized, id, fetched.ID())
	}
	if _, nested := fetched.(*Announce); nested {
		return fmt.Errorf("%w: nested announce", ErrMalformed)
	}
	if err := checkDomains(fetched); err != nil {
		return err
	}
	d.logger.Debug("announced activity fetched from its origin", zap.String("activity", id))
	a.inner = fetched
	return nil
}

func (a *Announce) Receive(ctx context.Context, d *Data) error {
	if a.duplicate {
		d.logger.Debug("announced activity already received", zap.String("activity", a.inner.ID()))
		return nil
	}
	if err := a.inner.Receive(ctx, d); err != nil {
		return err
	}
	_, err := d.db.InsertReceivedActivity(ctx, a.inner.ID())
	return err
}
