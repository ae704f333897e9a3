package activitypub

import (
	"context"
	"errors"
	"fmt"

	"github.com/deemkeen/lemmings/db"
	"github.com/deemkeen/lemmings/domain"
)

// Report flags a post or comment to the moderators of its community.
type Report struct {
	base
	Object  Audience `json:"object"`
	Summary string   `json:"summary"`
}

func (r *Report) targetRef() (PostOrCommentRef, error) {
	if len(r.Object) == 0 {
		return PostOrCommentRef{}, fmt.Errorf("%w: report without object", ErrMalformed)
	}
	return NewObjectId[*PostOrComment, postOrCommentKind](r.Object[0])
}

func (r *Report) resolve(ctx context.Context, d *Data) (*domain.Actor, *PostOrComment, *domain.Actor, error) {
	actor, err := r.ActorId.Dereference(ctx, d)
	if err != nil {
		return nil, nil, nil, err
	}
	ref, err := r.targetRef()
	if err != nil {
		return nil, nil, nil, err
	}
	object, err := ref.Dereference(ctx, d)
	if err != nil {
		return nil, nil, nil, err
	}
	community, err := object.Community(ctx, d)
	if err != nil {
		return nil, nil, nil, err
	}
	return actor, object, community, nil
}

func (r *Report) Verify(ctx context.Context, d *Data) error {
	actor, _, community, err := r.resolve(ctx, d)
	if err != nil {
		return err
	}
	return checkNotBanned(ctx, d, community, actor)
}

func (r *Report) Receive(ctx context.Context, d *Data) error {
	actor, object, community, err := r.resolve(ctx, d)
	if err != nil {
		return err
	}
	return d.db.UpsertReport(ctx, &domain.Report{
		ApId:        r.Id,
		ReporterId:  actor.Id,
		CommunityId: community.Id,
		ObjectApId:  object.ApId(),
		Reason:      r.Summary,
	})
}

// ResolveReport marks a report as handled by a moderator.
type ResolveReport struct {
	base
	Object Report `json:"object"`
}

func (r *ResolveReport) report(ctx context.Context, d *Data) (*domain.Report, error) {
	report, err := d.db.ReadReportByApId(ctx, r.Object.Id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: report %s", ErrNotFound, r.Object.Id)
	}
	return report, err
}

func (r *ResolveReport) Verify(ctx context.Context, d *Data) error {
	actor, err := r.ActorId.Dereference(ctx, d)
	if err != nil {
		return err
	}
	report, err := r.report(ctx, d)
	if err != nil {
		return err
	}
	community, err := d.db.ReadActorById(ctx, report.CommunityId)
	if err != nil {
		return err
	}
	return checkModerator(ctx, d, community, actor)
}

func (r *ResolveReport) Receive(ctx context.Context, d *Data) error {
	actor, err := r.ActorId.Dereference(ctx, d)
	if err != nil {
		return err
	}
	return d.db.ResolveReport(ctx, r.Object.Id, actor.Id)
}

// Block bans a person from a community.
type Block struct {
	base
	Object  PersonRef    `json:"object"`
	Target  CommunityRef `json:"target"`
	Summary string       `json:"summary,omitempty"`
}

func (b *Block) Verify(ctx context.Context, d *Data) error {
	actor, err := b.ActorId.Dereference(ctx, d)
	if err != nil {
		return err
	}
	community, err := b.Target.Dereference(ctx, d)
	if err != nil {
		return err
	}
	return checkModerator(ctx, d, community, actor)
}

func (b *Block) Receive(ctx context.Context, d *Data) error {
	person, err := b.Object.Dereference(ctx, d)
	if err != nil {
		return err
	}
	community, err := b.Target.Dereference(ctx, d)
	if err != nil {
		return err
	}
	if err := d.db.Ban(ctx, community.Id, person.Id); err != nil {
		return err
	}
	if err := d.db.DeleteFollow(ctx, person.Id, community.Id); err != nil {
		return err
	}
	return announceToFollowers(ctx, d, community, b)
}
