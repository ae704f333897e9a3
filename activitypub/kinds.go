package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/lemmings/db"
	"github.com/deemkeen/lemmings/domain"
	"github.com/deemkeen/lemmings/util"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type (
	ActorRef         = ObjectId[*domain.Actor, actorKind]
	PersonRef        = ObjectId[*domain.Actor, personKind]
	CommunityRef     = ObjectId[*domain.Actor, communityKind]
	PostRef          = ObjectId[*domain.Post, postKind]
	CommentRef       = ObjectId[*domain.Comment, commentKind]
	PostOrCommentRef = ObjectId[*PostOrComment, postOrCommentKind]
)

// PostOrComment is the target of votes, reports and deletes.
type PostOrComment struct {
	Post    *domain.Post
	Comment *domain.Comment
}

func (p *PostOrComment) ApId() string {
	if p.Post != nil {
		return p.Post.ApId
	}
	return p.Comment.ApId
}

func (p *PostOrComment) CreatorId() uuid.UUID {
	if p.Post != nil {
		return p.Post.CreatorId
	}
	return p.Comment.CreatorId
}

// Community loads the community the object was posted to.
func (p *PostOrComment) Community(ctx context.Context, d *Data) (*domain.Actor, error) {
	post := p.Post
	if post == nil {
		var err error
		if post, err = d.db.ReadPostById(ctx, p.Comment.PostId); err != nil {
			return nil, err
		}
	}
	return d.db.ReadActorById(ctx, post.CommunityId)
}

func isPersonType(typ string) bool {
	return typ == "Person" || typ == "Service" || typ == "Application"
}

func readActor(ctx context.Context, d *Data, id string, want domain.ActorType) (*domain.Actor, error) {
	a, err := d.db.ReadActorByApId(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Deleted {
		return nil, fmt.Errorf("%w: %s", ErrObjectDeleted, id)
	}
	if want != "" && a.Type != want {
		return nil, fmt.Errorf("%w: %s is a %s", ErrTypeMismatch, id, a.Type)
	}
	return a, nil
}

// storeActor verifies a fetched actor document and upserts it.
func storeActor(ctx context.Context, d *Data, actorType domain.ActorType, raw []byte) (*domain.Actor, error) {
	var obj ActorObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: actor: %v", ErrMalformed, err)
	}
	if obj.ID == "" || obj.Inbox == "" || obj.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("%w: actor %q is missing required fields", ErrMalformed, obj.ID)
	}
	if !sameAuthority(obj.ID, obj.Inbox) {
		return nil, fmt.Errorf("%w: inbox of %s is on another instance", ErrUnauthorized, obj.ID)
	}
	if obj.PublicKey.Owner != "" && obj.PublicKey.Owner != obj.ID {
		return nil, fmt.Errorf("%w: key of %s is owned by %s", ErrUnauthorized, obj.ID, obj.PublicKey.Owner)
	}
	if _, err := ParsePublicKey(obj.PublicKey.PublicKeyPem); err != nil {
		return nil, fmt.Errorf("%w: actor %s: %v", ErrMalformed, obj.ID, err)
	}

	actor := &domain.Actor{
		ApId:            obj.ID,
		Type:            actorType,
		Name:            obj.PreferredUsername,
		Domain:          util.Authority(obj.ID),
		DisplayName:     obj.Name,
		Summary:         obj.Summary,
		InboxURL:        obj.Inbox,
		FollowersURL:    obj.Followers,
		ModeratorsURL:   obj.Moderators,
		PublicKeyPem:    obj.PublicKey.PublicKeyPem,
		LastRefreshedAt: time.Now(),
	}
	if obj.Endpoints != nil {
		actor.SharedInboxURL = obj.Endpoints.SharedInbox
	}
	return d.db.UpsertActor(ctx, actor)
}

type personKind struct{}

func (personKind) Name() string { return "person" }

func (personKind) ReadFromID(ctx context.Context, d *Data, id string) (*domain.Actor, error) {
	return readActor(ctx, d, id, domain.PersonType)
}

func (personKind) RefreshedAt(a *domain.Actor) (time.Time, bool) {
	return a.LastRefreshedAt, !a.Local
}

func (personKind) FromJSON(ctx context.Context, d *Data, typ string, raw []byte) (*domain.Actor, error) {
	if !isPersonType(typ) {
		return nil, fmt.Errorf("%w: expected person, got %s", ErrTypeMismatch, typ)
	}
	return storeActor(ctx, d, domain.PersonType, raw)
}

func (personKind) Delete(ctx context.Context, d *Data, id string) error {
	return d.db.MarkActorDeleted(ctx, id)
}

type communityKind struct{}

func (communityKind) Name() string { return "community" }

func (communityKind) ReadFromID(ctx context.Context, d *Data, id string) (*domain.Actor, error) {
	return readActor(ctx, d, id, domain.GroupType)
}

func (communityKind) RefreshedAt(a *domain.Actor) (time.Time, bool) {
	return a.LastRefreshedAt, !a.Local
}

func (communityKind) FromJSON(ctx context.Context, d *Data, typ string, raw []byte) (*domain.Actor, error) {
	if typ != "Group" {
		return nil, fmt.Errorf("%w: expected community, got %s", ErrTypeMismatch, typ)
	}
	community, err := storeActor(ctx, d, domain.GroupType, raw)
	if err != nil {
		return nil, err
	}
	if err := resolveModerators(ctx, d, community); err != nil {
		if errors.Is(err, ErrFetchLimit) {
			return nil, err
		}
		d.logger.Warn("could not resolve moderators",
			zap.String("community", community.ApId), zap.Error(err))
	}
	return community, nil
}

func (communityKind) Delete(ctx context.Context, d *Data, id string) error {
	return d.db.MarkActorDeleted(ctx, id)
}

// resolveModerators replaces the stored moderator list of a remote
// community with its moderators collection.
func resolveModerators(ctx context.Context, d *Data, community *domain.Actor) error {
	if community.ModeratorsURL == "" {
		return nil
	}
	collection, err := d.FetchCollection(ctx, community.ModeratorsURL)
	if err != nil {
		return err
	}
	var mods []uuid.UUID
	for _, item := range collection.OrderedItems {
		ref, err := NewObjectId[*domain.Actor, personKind](string(item))
		if err != nil {
			continue
		}
		mod, err := ref.Dereference(ctx, d)
		if err != nil {
			if errors.Is(err, ErrFetchLimit) {
				return err
			}
			d.logger.Debug("skipping moderator", zap.String("id", string(item)), zap.Error(err))
			continue
		}
		mods = append(mods, mod.Id)
	}
	return d.db.ReplaceModerators(ctx, community.Id, mods)
}

// actorKind accepts persons and communities.
type actorKind struct{}

func (actorKind) Name() string { return "actor" }

func (actorKind) ReadFromID(ctx context.Context, d *Data, id string) (*domain.Actor, error) {
	return readActor(ctx, d, id, "")
}

func (actorKind) RefreshedAt(a *domain.Actor) (time.Time, bool) {
	return a.LastRefreshedAt, !a.Local
}

func (actorKind) FromJSON(ctx context.Context, d *Data, typ string, raw []byte) (*domain.Actor, error) {
	if typ == "Group" {
		return communityKind{}.FromJSON(ctx, d, typ, raw)
	}
	return personKind{}.FromJSON(ctx, d, typ, raw)
}

func (actorKind) Delete(ctx context.Context, d *Data, id string) error {
	return d.db.MarkActorDeleted(ctx, id)
}

type postKind struct{}

func (postKind) Name() string { return "post" }

func (postKind) ReadFromID(ctx context.Context, d *Data, id string) (*domain.Post, error) {
	p, err := d.db.ReadPostByApId(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Deleted {
		return nil, fmt.Errorf("%w: %s", ErrObjectDeleted, id)
	}
	return p, nil
}

// Posts are updated by Update activities, never by refetching.
func (postKind) RefreshedAt(p *domain.Post) (time.Time, bool) {
	return p.Published, false
}

func (postKind) FromJSON(ctx context.Context, d *Data, typ string, raw []byte) (*domain.Post, error) {
	if typ != "Page" {
		return nil, fmt.Errorf("%w: expected post, got %s", ErrTypeMismatch, typ)
	}
	var page PageObject
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("%w: page: %v", ErrMalformed, err)
	}
	return storePage(ctx, d, &page)
}

func (postKind) Delete(ctx context.Context, d *Data, id string) error {
	return d.db.MarkPostDeleted(ctx, id)
}

// storePage resolves creator and community of a page and upserts it.
func storePage(ctx context.Context, d *Data, page *PageObject) (*domain.Post, error) {
	if page.ID == "" || page.Name == "" {
		return nil, fmt.Errorf("%w: page %q is missing required fields", ErrMalformed, page.ID)
	}
	if !sameAuthority(page.ID, string(page.AttributedTo)) {
		return nil, fmt.Errorf("%w: page %s attributed to another instance", ErrUnauthorized, page.ID)
	}
	creatorRef, err := NewObjectId[*domain.Actor, personKind](string(page.AttributedTo))
	if err != nil {
		return nil, err
	}
	creator, err := creatorRef.Dereference(ctx, d)
	if err != nil {
		return nil, err
	}
	communityRef, err := NewObjectId[*domain.Actor, communityKind](page.Community())
	if err != nil {
		return nil, err
	}
	community, err := communityRef.Dereference(ctx, d)
	if err != nil {
		return nil, err
	}

	post := &domain.Post{
		ApId:        page.ID,
		CommunityId: community.Id,
		CreatorId:   creator.Id,
		Name:        page.Name,
		URL:         page.URL,
		Body:        page.Content,
		Local:       d.IsLocalURL(page.ID),
		Updated:     page.Updated,
	}
	if page.Published != nil {
		post.Published = *page.Published
	}
	return d.db.UpsertPost(ctx, post)
}

type commentKind struct{}

func (commentKind) Name() string { return "comment" }

func (commentKind) ReadFromID(ctx context.Context, d *Data, id string) (*domain.Comment, error) {
	c, err := d.db.ReadCommentByApId(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Deleted {
		return nil, fmt.Errorf("%w: %s", ErrObjectDeleted, id)
	}
	return c, nil
}

func (commentKind) RefreshedAt(c *domain.Comment) (time.Time, bool) {
	return c.Published, false
}

func (commentKind) FromJSON(ctx context.Context, d *Data, typ string, raw []byte) (*domain.Comment, error) {
	if typ != "Note" {
		return nil, fmt.Errorf("%w: expected comment, got %s", ErrTypeMismatch, typ)
	}
	var note NoteObject
	if err := json.Unmarshal(raw, &note); err != nil {
		return nil, fmt.Errorf("%w: note: %v", ErrMalformed, err)
	}
	return storeNote(ctx, d, &note)
}

func (commentKind) Delete(ctx context.Context, d *Data, id string) error {
	return d.db.MarkCommentDeleted(ctx, id)
}

// storeNote resolves creator and parent of a note and upserts it.
func storeNote(ctx context.Context, d *Data, note *NoteObject) (*domain.Comment, error) {
	if note.ID == "" || note.InReplyTo == "" {
		return nil, fmt.Errorf("%w: note %q is missing required fields", ErrMalformed, note.ID)
	}
	if !sameAuthority(note.ID, string(note.AttributedTo)) {
		return nil, fmt.Errorf("%w: note %s attributed to another instance", ErrUnauthorized, note.ID)
	}
	creatorRef, err := NewObjectId[*domain.Actor, personKind](string(note.AttributedTo))
	if err != nil {
		return nil, err
	}
	creator, err := creatorRef.Dereference(ctx, d)
	if err != nil {
		return nil, err
	}
	parentRef, err := NewObjectId[*PostOrComment, postOrCommentKind](string(note.InReplyTo))
	if err != nil {
		return nil, err
	}
	parent, err := parentRef.Dereference(ctx, d)
	if err != nil {
		return nil, err
	}

	comment := &domain.Comment{
		ApId:      note.ID,
		CreatorId: creator.Id,
		Content:   note.Content,
		Local:     d.IsLocalURL(note.ID),
		Updated:   note.Updated,
	}
	if parent.Post != nil {
		comment.PostId = parent.Post.Id
	} else {
		comment.PostId = parent.Comment.PostId
		comment.ParentId = &parent.Comment.Id
	}
	if note.Published != nil {
		comment.Published = *note.Published
	}
	return d.db.UpsertComment(ctx, comment)
}

type postOrCommentKind struct{}

func (postOrCommentKind) Name() string { return "post or comment" }

func (postOrCommentKind) ReadFromID(ctx context.Context, d *Data, id string) (*PostOrComment, error) {
	post, err := postKind{}.ReadFromID(ctx, d, id)
	if err == nil {
		return &PostOrComment{Post: post}, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	comment, err := commentKind{}.ReadFromID(ctx, d, id)
	if err != nil {
		return nil, err
	}
	return &PostOrComment{Comment: comment}, nil
}

func (postOrCommentKind) RefreshedAt(p *PostOrComment) (time.Time, bool) {
	return time.Time{}, false
}

func (postOrCommentKind) FromJSON(ctx context.Context, d *Data, typ string, raw []byte) (*PostOrComment, error) {
	switch typ {
	case "Page":
		post, err := postKind{}.FromJSON(ctx, d, typ, raw)
		if err != nil {
			return nil, err
		}
		return &PostOrComment{Post: post}, nil
	case "Note":
		comment, err := commentKind{}.FromJSON(ctx, d, typ, raw)
		if err != nil {
			return nil, err
		}
		return &PostOrComment{Comment: comment}, nil
	default:
		return nil, fmt.Errorf("%w: expected post or comment, got %s", ErrTypeMismatch, typ)
	}
}

func (postOrCommentKind) Delete(ctx context.Context, d *Data, id string) error {
	if err := d.db.MarkPostDeleted(ctx, id); err != nil {
		return err
	}
	return d.db.MarkCommentDeleted(ctx, id)
}
