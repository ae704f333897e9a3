package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/deemkeen/lemmings/db"
	"github.com/deemkeen/lemmings/domain"
)

// Follow asks a local person or community to add the actor as follower.
type Follow struct {
	base
	Object ActorRef `json:"object"`
}

func (f *Follow) Verify(ctx context.Context, d *Data) error {
	if !d.IsLocalURL(f.Object.String()) {
		return fmt.Errorf("%w: follow target %s is not local", ErrRejected, f.Object)
	}
	_, err := f.Object.DereferenceLocal(ctx, d)
	return err
}

// Receive stores the follow and answers it. A person banned from the
// community gets a Reject, everyone else an Accept. Following twice is not
// an error.
func (f *Follow) Receive(ctx context.Context, d *Data) error {
	follower, err := f.ActorId.Dereference(ctx, d)
	if err != nil {
		return err
	}
	target, err := f.Object.DereferenceLocal(ctx, d)
	if err != nil {
		return err
	}

	if target.IsCommunity() {
		banned, err := d.db.IsBanned(ctx, target.Id, follower.Id)
		if err != nil {
			return err
		}
		if banned {
			return d.SendReject(ctx, target, f, follower)
		}
	}

	created, err := d.db.CreateFollow(ctx, &domain.Follow{ApId: f.Id, FollowerId: follower.Id, TargetId: target.Id})
	if err != nil {
		return err
	}
	if !created {
		d.logger.Debug("already following, accepting again")
	}
	return d.SendAccept(ctx, target, f, follower)
}

// verifyFollowAnswer checks that an Accept or Reject answers a follow sent
// by a local actor to the answering actor.
func verifyFollowAnswer(d *Data, answerer ActorRef, follow *Follow) error {
	if !d.IsLocalURL(follow.ActorId.String()) {
		return fmt.Errorf("%w: answered follow was not sent from here", ErrRejected)
	}
	if follow.Object.String() != answerer.String() {
		return fmt.Errorf("%w: %s answers a follow of %s", ErrUnauthorized, answerer, follow.Object)
	}
	return nil
}

type Accept struct {
	base
	Object Follow `json:"object"`
}

func (a *Accept) Verify(ctx context.Context, d *Data) error {
	return verifyFollowAnswer(d, a.ActorId, &a.Object)
}

func (a *Accept) Receive(ctx context.Context, d *Data) error {
	follower, err := a.Object.ActorId.DereferenceLocal(ctx, d)
	if err != nil {
		return err
	}
	target, err := a.ActorId.Dereference(ctx, d)
	if err != nil {
		return err
	}
	err = d.db.AcceptFollow(ctx, follower.Id, target.Id)
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: %s never asked to follow %s", ErrRejected, follower.ApId, target.ApId)
	}
	return err
}

type Reject struct {
	base
	Object Follow `json:"object"`
}

func (r *Reject) Verify(ctx context.Context, d *Data) error {
	return verifyFollowAnswer(d, r.ActorId, &r.Object)
}

func (r *Reject) Receive(ctx context.Context, d *Data) error {
	follower, err := r.Object.ActorId.DereferenceLocal(ctx, d)
	if err != nil {
		return err
	}
	target, err := r.ActorId.Dereference(ctx, d)
	if err != nil {
		return err
	}
	return d.db.DeleteFollow(ctx, follower.Id, target.Id)
}

// Undo reverts a follow, a vote or a community ban.
type Undo struct {
	base
	Object json.RawMessage `json:"object"`

	inner Activity
}

func (u *Undo) UnmarshalJSON(b []byte) error {
	type plain Undo
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*u = Undo(p)
	inner, err := ParseActivity(u.Object)
	if err != nil {
		return err
	}
	switch inner.(type) {
	case *Follow, *Vote, *Block:
	default:
		return fmt.Errorf("%w: cannot undo %T", ErrMalformed, inner)
	}
	u.inner = inner
	return nil
}

// Inner is the activity being undone.
func (u *Undo) Inner() Activity {
	return u.inner
}

func (u *Undo) Verify(ctx context.Context, d *Data) error {
	if u.inner.Actor().String() != u.ActorId.String() {
		return fmt.Errorf("%w: %s cannot undo an activity of %s", ErrUnauthorized, u.ActorId, u.inner.Actor())
	}
	if err := checkDomains(u.inner); err != nil {
		return err
	}
	switch inner := u.inner.(type) {
	case *Vote:
		_, err := inner.Object.Dereference(ctx, d)
		return err
	default:
		return inner.Verify(ctx, d)
	}
}

func (u *Undo) Receive(ctx context.Context, d *Data) error {
	actor, err := u.ActorId.Dereference(ctx, d)
	if err != nil {
		return err
	}
	switch inner := u.inner.(type) {
	case *Follow:
		target, err := inner.Object.DereferenceLocal(ctx, d)
		if err != nil {
			return err
		}
		return d.db.DeleteFollow(ctx, actor.Id, target.Id)
	case *Vote:
		object, err := inner.Object.Dereference(ctx, d)
		if err != nil {
			return err
		}
		if err := d.db.DeleteVote(ctx, actor.Id, object.ApId()); err != nil {
			return err
		}
		community, err := object.Community(ctx, d)
		if err != nil {
			return err
		}
		return announceToFollowers(ctx, d, community, u)
	case *Block:
		person, err := inner.Object.Dereference(ctx, d)
		if err != nil {
			return err
		}
		community, err := inner.Target.Dereference(ctx, d)
		if err != nil {
			return err
		}
		if err := d.db.Unban(ctx, community.Id, person.Id); err != nil {
			return err
		}
		return announceToFollowers(ctx, d, community, u)
	}
	return nil
}
