package activitypub

import (
	"context"
	"errors"
	"fmt"

	"github.com/deemkeen/lemmings/db"
	"github.com/deemkeen/lemmings/domain"
)

// Vote is a Like (+1) or Dislike (-1) of a post or comment.
type Vote struct {
	base
	Object PostOrCommentRef `json:"object"`
}

func (v *Vote) Score() int {
	if v.Type == "Dislike" {
		return -1
	}
	return 1
}

func (v *Vote) Verify(ctx context.Context, d *Data) error {
	actor, err := v.ActorId.Dereference(ctx, d)
	if err != nil {
		return err
	}
	object, err := v.Object.Dereference(ctx, d)
	if err != nil {
		return err
	}
	community, err := object.Community(ctx, d)
	if err != nil {
		return err
	}
	return checkNotBanned(ctx, d, community, actor)
}

func (v *Vote) Receive(ctx context.Context, d *Data) error {
	actor, err := v.ActorId.Dereference(ctx, d)
	if err != nil {
		return err
	}
	object, err := v.Object.Dereference(ctx, d)
	if err != nil {
		return err
	}
	vote := &domain.Vote{ApId: v.Id, ActorId: actor.Id, ObjectApId: object.ApId(), Score: v.Score()}
	if err := d.db.UpsertVote(ctx, vote); err != nil {
		return err
	}
	community, err := object.Community(ctx, d)
	if err != nil {
		return err
	}
	return announceToFollowers(ctx, d, community, v)
}

// verifyAuthor checks the attribution of a created or updated object.
func verifyAuthor(activity *base, objectId string, attributedTo IRI) error {
	if string(attributedTo) != activity.ActorId.String() {
		return fmt.Errorf("%w: %s is attributed to %s", ErrUnauthorized, objectId, attributedTo)
	}
	if !sameAuthority(objectId, activity.Id) {
		return fmt.Errorf("%w: %s lives on another instance than %s", ErrUnauthorized, objectId, activity.Id)
	}
	return nil
}

// verifyEditor rejects a Create or Update that would overwrite an existing
// object of someone else.
func verifyEditor(creatorId func() (*domain.Actor, error), actor *domain.Actor) error {
	creator, err := creatorId()
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if creator.Id != actor.Id {
		return fmt.Errorf("%w: %s cannot edit content of %s", ErrRejected, actor.ApId, creator.ApId)
	}
	return nil
}

type CreateOrUpdatePage struct {
	base
	Object PageObject `json:"object"`
}

func (c *CreateOrUpdatePage) Verify(ctx context.Context, d *Data) error {
	if err := verifyAuthor(&c.base, c.Object.ID, c.Object.AttributedTo); err != nil {
		return err
	}
	actor, err := c.ActorId.Dereference(ctx, d)
	if err != nil {
		return err
	}
	communityRef, err := NewObjectId[*domain.Actor, communityKind](c.Object.Community())
	if err != nil {
		return err
	}
	community, err := communityRef.Dereference(ctx, d)
	if err != nil {
		return err
	}
	if err := checkNotBanned(ctx, d, community, actor); err != nil {
		return err
	}
	return verifyEditor(func() (*domain.Actor, error) {
		post, err := d.db.ReadPostByApId(ctx, c.Object.ID)
		if err != nil {
			return nil, err
		}
		return d.db.ReadActorById(ctx, post.CreatorId)
	}, actor)
}

func (c *CreateOrUpdatePage) Receive(ctx context.Context, d *Data) error {
	post, err := storePage(ctx, d, &c.Object)
	if err != nil {
		return err
	}
	community, err := d.db.ReadActorById(ctx, post.CommunityId)
	if err != nil {
		return err
	}
	return announceToFollowers(ctx, d, community, c)
}

type CreateOrUpdateNote struct {
	base
	Object NoteObject `json:"object"`
}

func (c *CreateOrUpdateNote) Verify(ctx context.Context, d *Data) error {
	if err := verifyAuthor(&c.base, c.Object.ID, c.Object.AttributedTo); err != nil {
		return err
	}
	actor, err := c.ActorId.Dereference(ctx, d)
	if err != nil {
		return err
	}
	parentRef, err := NewObjectId[*PostOrComment, postOrCommentKind](string(c.Object.InReplyTo))
	if err != nil {
		return err
	}
	parent, err := parentRef.Dereference(ctx, d)
	if err != nil {
		return err
	}
	community, err := parent.Community(ctx, d)
	if err != nil {
		return err
	}
	if err := checkNotBanned(ctx, d, community, actor); err != nil {
		return err
	}
	return verifyEditor(func() (*domain.Actor, error) {
		comment, err := d.db.ReadCommentByApId(ctx, c.Object.ID)
		if err != nil {
			return nil, err
		}
		return d.db.ReadActorById(ctx, comment.CreatorId)
	}, actor)
}

func (c *CreateOrUpdateNote) Receive(ctx context.Context, d *Data) error {
	comment, err := storeNote(ctx, d, &c.Object)
	if err != nil {
		return err
	}
	community, err := (&PostOrComment{Comment: comment}).Community(ctx, d)
	if err != nil {
		return err
	}
	return announceToFollowers(ctx, d, community, c)
}

// Delete removes a post or comment, or the sending actor itself.
type Delete struct {
	base
	Object  IRI    `json:"object"`
	Summary string `json:"summary,omitempty"`
}

func (del *Delete) deletesActor() bool {
	return string(del.Object) == del.ActorId.String()
}

// target reads the deleted object from the database only; objects that are
// unknown or already deleted need no action.
func (del *Delete) target(ctx context.Context, d *Data) (*PostOrComment, error) {
	obj, err := postOrCommentKind{}.ReadFromID(ctx, d, string(del.Object))
	if errors.Is(err, db.ErrNotFound) || errors.Is(err, ErrObjectDeleted) {
		return nil, nil
	}
	return obj, err
}

func (del *Delete) Verify(ctx context.Context, d *Data) error {
	if del.Object == "" {
		return fmt.Errorf("%w: delete without object", ErrMalformed)
	}
	if del.deletesActor() {
		return nil
	}
	actor, err := del.ActorId.Dereference(ctx, d)
	if err != nil {
		return err
	}
	obj, err := del.target(ctx, d)
	if err != nil || obj == nil {
		return err
	}
	if obj.CreatorId() == actor.Id {
		return nil
	}
	community, err := obj.Community(ctx, d)
	if err != nil {
		return err
	}
	return checkModerator(ctx, d, community, actor)
}

func (del *Delete) Receive(ctx context.Context, d *Data) error {
	if del.deletesActor() {
		return d.db.MarkActorDeleted(ctx, del.ActorId.String())
	}
	obj, err := del.target(ctx, d)
	if err != nil || obj == nil {
		return err
	}
	if obj.Post != nil {
		err = d.db.MarkPostDeleted(ctx, obj.Post.ApId)
	} else {
		err = d.db.MarkCommentDeleted(ctx, obj.Comment.ApId)
	}
	if err != nil {
		return err
	}
	community, err := obj.Community(ctx, d)
	if err != nil {
		return err
	}
	return announceToFollowers(ctx, d, community, del)
}
