package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/deemkeen/lemmings/domain"
	"github.com/deemkeen/lemmings/util"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Targets selects the inboxes a sent activity is delivered to. The queue
// workers evaluate it per instance at delivery time.
type Targets struct {
	Inboxes []string
	// CommunityFollowersOf delivers to every instance with an accepted
	// follower of this community.
	CommunityFollowersOf *uuid.UUID
	AllInstances         bool
}

var validName = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)

func (f *Federation) activityId(kind string) string {
	return f.BaseURL() + activityPath(kind) + uuid.New().String()
}

func (f *Federation) newBase(kind string, actor *domain.Actor) base {
	return base{
		Id:      f.activityId(kind),
		Type:    kind,
		ActorId: ActorRef{url: actor.ApId},
		To:      Audience{PublicAddress},
	}
}

// Send stores an activity in the outbox sequence. Delivery happens
// asynchronously in the per instance queue workers.
func (f *Federation) Send(ctx context.Context, a Activity, actor *domain.Actor, t Targets) (int64, error) {
	raw, err := withContext(a)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", a.ID(), err)
	}
	kind := a.kindName()

	var inboxes []string
	for _, inbox := range t.Inboxes {
		if inbox != "" && !f.IsLocalURL(inbox) {
			inboxes = append(inboxes, inbox)
		}
	}

	id, err := f.db.InsertSentActivity(ctx, &domain.SentActivity{
		ApId:                    a.ID(),
		Kind:                    kind,
		Data:                    string(raw),
		ActorApId:               actor.ApId,
		Sensitive:               kind == "Flag" || kind == "Resolve",
		SendInboxes:             inboxes,
		SendCommunityFollowerOf: t.CommunityFollowersOf,
		SendAllInstances:        t.AllInstances,
	})
	if err != nil {
		return 0, err
	}
	f.logger.Debug("activity queued",
		zap.Int64("seq", id), zap.String("activity", a.ID()), zap.String("kind", kind), zap.Int("inboxes", len(inboxes)))
	return id, nil
}

// sendToCommunity delivers content activities. A remote community gets the
// activity in its inbox and announces it itself; a local community
// announces it to its followers right away.
func (f *Federation) sendToCommunity(ctx context.Context, a Activity, actor, community *domain.Actor) error {
	if !community.Local {
		_, err := f.Send(ctx, a, actor, Targets{Inboxes: []string{community.DeliveryInbox()}})
		return err
	}
	// stored without targets so that it can be served from /activities
	if _, err := f.Send(ctx, a, actor, Targets{}); err != nil {
		return err
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = f.SendAnnounce(ctx, community, raw)
	return err
}

func (f *Federation) SendAnnounce(ctx context.Context, community *domain.Actor, inner json.RawMessage) (int64, error) {
	a := &Announce{base: f.newBase("Announce", community), Object: inner}
	if community.FollowersURL != "" {
		a.Cc = Audience{community.FollowersURL}
	}
	return f.Send(ctx, a, community, Targets{CommunityFollowersOf: &community.Id})
}

func (f *Federation) followActivity(id string, follower, target *domain.Actor) *Follow {
	fo := &Follow{base: f.newBase("Follow", follower), Object: ActorRef{url: target.ApId}}
	if id != "" {
		fo.Id = id
	}
	fo.To = Audience{target.ApId}
	return fo
}

// SendFollow records a pending follow of a remote actor and asks it to
// accept.
func (f *Federation) SendFollow(ctx context.Context, follower, target *domain.Actor) error {
	fo := f.followActivity("", follower, target)
	if _, err := f.db.CreateFollow(ctx, &domain.Follow{ApId: fo.Id, FollowerId: follower.Id, TargetId: target.Id, Pending: true}); err != nil {
		return err
	}
	_, err := f.Send(ctx, fo, follower, Targets{Inboxes: []string{target.InboxURL}})
	return err
}

func (f *Federation) SendUndoFollow(ctx context.Context, follower, target *domain.Actor) error {
	var followId string
	if existing, err := f.db.ReadFollow(ctx, follower.Id, target.Id); err == nil {
		followId = existing.ApId
	}
	undo, err := f.newUndo(follower, f.followActivity(followId, follower, target))
	if err != nil {
		return err
	}
	undo.To = Audience{target.ApId}
	if err := f.db.DeleteFollow(ctx, follower.Id, target.Id); err != nil {
		return err
	}
	_, err = f.Send(ctx, undo, follower, Targets{Inboxes: []string{target.InboxURL}})
	return err
}

func (f *Federation) SendAccept(ctx context.Context, target *domain.Actor, follow *Follow, follower *domain.Actor) error {
	a := &Accept{base: f.newBase("Accept", target), Object: *follow}
	a.To = Audience{follower.ApId}
	_, err := f.Send(ctx, a, target, Targets{Inboxes: []string{follower.InboxURL}})
	return err
}

func (f *Federation) SendReject(ctx context.Context, target *domain.Actor, follow *Follow, follower *domain.Actor) error {
	r := &Reject{base: f.newBase("Reject", target), Object: *follow}
	r.To = Audience{follower.ApId}
	_, err := f.Send(ctx, r, target, Targets{Inboxes: []string{follower.InboxURL}})
	return err
}

func (f *Federation) newUndo(actor *domain.Actor, inner Activity) (*Undo, error) {
	raw, err := json.Marshal(inner)
	if err != nil {
		return nil, err
	}
	return &Undo{base: f.newBase("Undo", actor), Object: raw, inner: inner}, nil
}

// PostObject renders a stored post.
func (f *Federation) PostObject(post *domain.Post, creator, community *domain.Actor) PageObject {
	published := post.Published
	return PageObject{
		ID:           post.ApId,
		Type:         "Page",
		AttributedTo: IRI(creator.ApId),
		To:           Audience{community.ApId, PublicAddress},
		Audience:     IRI(community.ApId),
		Name:         post.Name,
		Content:      post.Body,
		URL:          post.URL,
		Published:    &published,
		Updated:      post.Updated,
	}
}

// CommentObject renders a stored comment. parent is the post or comment it
// replies to.
func (f *Federation) CommentObject(comment *domain.Comment, creator, community *domain.Actor, parent string) NoteObject {
	published := comment.Published
	return NoteObject{
		ID:           comment.ApId,
		Type:         "Note",
		AttributedTo: IRI(creator.ApId),
		To:           Audience{community.ApId, PublicAddress},
		Audience:     IRI(community.ApId),
		Content:      comment.Content,
		InReplyTo:    IRI(parent),
		Published:    &published,
		Updated:      comment.Updated,
	}
}

func (f *Federation) sendPage(ctx context.Context, kind string, post *domain.Post, creator, community *domain.Actor) error {
	c := &CreateOrUpdatePage{base: f.newBase(kind, creator), Object: f.PostObject(post, creator, community)}
	c.To = Audience{community.ApId, PublicAddress}
	return f.sendToCommunity(ctx, c, creator, community)
}

func (f *Federation) SendCreatePost(ctx context.Context, post *domain.Post, creator, community *domain.Actor) error {
	return f.sendPage(ctx, "Create", post, creator, community)
}

func (f *Federation) SendUpdatePost(ctx context.Context, post *domain.Post, creator, community *domain.Actor) error {
	return f.sendPage(ctx, "Update", post, creator, community)
}

// CommentParent returns the id the comment replies to.
func (f *Federation) CommentParent(ctx context.Context, comment *domain.Comment) (string, error) {
	if comment.ParentId != nil {
		parent, err := f.db.ReadCommentById(ctx, *comment.ParentId)
		if err != nil {
			return "", err
		}
		return parent.ApId, nil
	}
	post, err := f.db.ReadPostById(ctx, comment.PostId)
	if err != nil {
		return "", err
	}
	return post.ApId, nil
}

func (f *Federation) SendCreateComment(ctx context.Context, comment *domain.Comment, creator, community *domain.Actor) error {
	parent, err := f.CommentParent(ctx, comment)
	if err != nil {
		return err
	}
	c := &CreateOrUpdateNote{base: f.newBase("Create", creator), Object: f.CommentObject(comment, creator, community, parent)}
	c.To = Audience{community.ApId, PublicAddress}
	return f.sendToCommunity(ctx, c, creator, community)
}

func (f *Federation) voteActivity(id string, voter *domain.Actor, objectApId string, score int) *Vote {
	kind := "Like"
	if score < 0 {
		kind = "Dislike"
	}
	v := &Vote{base: f.newBase(kind, voter), Object: PostOrCommentRef{url: objectApId}}
	if id != "" {
		v.Id = id
	}
	return v
}

// SendVote stores the vote of a local person and federates it.
func (f *Federation) SendVote(ctx context.Context, voter *domain.Actor, object *PostOrComment, community *domain.Actor, score int) error {
	v := f.voteActivity("", voter, object.ApId(), score)
	v.To = Audience{community.ApId, PublicAddress}
	if err := f.db.UpsertVote(ctx, &domain.Vote{ApId: v.Id, ActorId: voter.Id, ObjectApId: object.ApId(), Score: v.Score()}); err != nil {
		return err
	}
	return f.sendToCommunity(ctx, v, voter, community)
}

func (f *Federation) SendUndoVote(ctx context.Context, voter *domain.Actor, object *PostOrComment, community *domain.Actor) error {
	vote, err := f.db.ReadVote(ctx, voter.Id, object.ApId())
	if err != nil {
		return err
	}
	undo, err := f.newUndo(voter, f.voteActivity(vote.ApId, voter, object.ApId(), vote.Score))
	if err != nil {
		return err
	}
	undo.To = Audience{community.ApId, PublicAddress}
	if err := f.db.DeleteVote(ctx, voter.Id, object.ApId()); err != nil {
		return err
	}
	return f.sendToCommunity(ctx, undo, voter, community)
}

// SendDelete deletes a post or comment of actor and federates the deletion.
func (f *Federation) SendDelete(ctx context.Context, actor *domain.Actor, object *PostOrComment, community *domain.Actor) error {
	del := &Delete{base: f.newBase("Delete", actor), Object: IRI(object.ApId())}
	del.To = Audience{community.ApId, PublicAddress}
	var err error
	if object.Post != nil {
		err = f.db.MarkPostDeleted(ctx, object.Post.ApId)
	} else {
		err = f.db.MarkCommentDeleted(ctx, object.Comment.ApId)
	}
	if err != nil {
		return err
	}
	return f.sendToCommunity(ctx, del, actor, community)
}

// SendDeleteActor deletes a local actor and tells every known instance.
func (f *Federation) SendDeleteActor(ctx context.Context, actor *domain.Actor) error {
	del := &Delete{base: f.newBase("Delete", actor), Object: IRI(actor.ApId)}
	if err := f.db.MarkActorDeleted(ctx, actor.ApId); err != nil {
		return err
	}
	_, err := f.Send(ctx, del, actor, Targets{AllInstances: true})
	return err
}

func (f *Federation) SendReport(ctx context.Context, reporter *domain.Actor, object *PostOrComment, community *domain.Actor, reason string) error {
	r := &Report{base: f.newBase("Flag", reporter), Object: Audience{object.ApId()}, Summary: reason}
	r.To = Audience{community.ApId}
	if err := f.db.UpsertReport(ctx, &domain.Report{
		ApId:        r.Id,
		ReporterId:  reporter.Id,
		CommunityId: community.Id,
		ObjectApId:  object.ApId(),
		Reason:      reason,
	}); err != nil {
		return err
	}
	if community.Local {
		return nil
	}
	_, err := f.Send(ctx, r, reporter, Targets{Inboxes: []string{community.DeliveryInbox()}})
	return err
}

func (f *Federation) SendResolveReport(ctx context.Context, moderator *domain.Actor, report *domain.Report, community *domain.Actor) error {
	reporter, err := f.db.ReadActorById(ctx, report.ReporterId)
	if err != nil {
		return err
	}
	flag := Report{
		base:    base{Id: report.ApId, Type: "Flag", ActorId: ActorRef{url: reporter.ApId}, To: Audience{community.ApId}},
		Object:  Audience{report.ObjectApId},
		Summary: report.Reason,
	}
	r := &ResolveReport{base: f.newBase("Resolve", moderator), Object: flag}
	r.To = Audience{community.ApId}
	if err := f.db.ResolveReport(ctx, report.ApId, moderator.Id); err != nil {
		return err
	}
	inbox := community.DeliveryInbox()
	if community.Local {
		inbox = reporter.DeliveryInbox()
	}
	_, err = f.Send(ctx, r, moderator, Targets{Inboxes: []string{inbox}})
	return err
}

// SendBlock bans person from community on behalf of a moderator.
func (f *Federation) SendBlock(ctx context.Context, moderator, community, person *domain.Actor, reason string) error {
	b := &Block{
		base:    f.newBase("Block", moderator),
		Object:  PersonRef{url: person.ApId},
		Target:  CommunityRef{url: community.ApId},
		Summary: reason,
	}
	b.To = Audience{community.ApId, PublicAddress}
	if err := f.db.Ban(ctx, community.Id, person.Id); err != nil {
		return err
	}
	if err := f.db.DeleteFollow(ctx, person.Id, community.Id); err != nil {
		return err
	}
	return f.sendToCommunity(ctx, b, moderator, community)
}

// CreateLocalActor creates a person or community of this instance with a
// fresh key pair.
func (f *Federation) CreateLocalActor(ctx context.Context, actorType domain.ActorType, name, displayName string) (*domain.Actor, error) {
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("invalid name %q: use 1-32 lowercase letters, digits or _", name)
	}
	if _, err := f.db.ReadLocalActor(ctx, actorType, name); err == nil {
		return nil, fmt.Errorf("%s %q already exists", strings.ToLower(string(actorType)), name)
	}
	keys, err := util.GeneratePemKeypair()
	if err != nil {
		return nil, err
	}

	prefix := "u"
	if actorType == domain.GroupType {
		prefix = "c"
	}
	apId := fmt.Sprintf("%s/%s/%s", f.BaseURL(), prefix, name)
	actor := &domain.Actor{
		ApId:           apId,
		Type:           actorType,
		Name:           name,
		Domain:         f.Domain(),
		DisplayName:    displayName,
		InboxURL:       apId + "/inbox",
		SharedInboxURL: f.BaseURL() + "/inbox",
		FollowersURL:   apId + "/followers",
		PublicKeyPem:   keys.Public,
		PrivateKeyPem:  keys.Private,
		Local:          true,
	}
	if actorType == domain.GroupType {
		actor.ModeratorsURL = apId + "/moderators"
	}
	return f.db.UpsertActor(ctx, actor)
}

// CreateLocalPost stores a new post of a local person and federates it.
func (f *Federation) CreateLocalPost(ctx context.Context, creator, community *domain.Actor, name, link, body string) (*domain.Post, error) {
	if !creator.Local {
		return nil, fmt.Errorf("%s is not a local person", creator.ApId)
	}
	if !community.IsCommunity() {
		return nil, fmt.Errorf("%s is not a community", community.ApId)
	}
	banned, err := f.db.IsBanned(ctx, community.Id, creator.Id)
	if err != nil {
		return nil, err
	}
	if banned {
		return nil, fmt.Errorf("%w: %s is banned from %s", ErrRejected, creator.ApId, community.ApId)
	}

	post, err := f.db.UpsertPost(ctx, &domain.Post{
		ApId:        fmt.Sprintf("%s/post/%s", f.BaseURL(), uuid.New()),
		CommunityId: community.Id,
		CreatorId:   creator.Id,
		Name:        name,
		URL:         link,
		Body:        body,
		Local:       true,
		Published:   time.Now(),
	})
	if err != nil {
		return nil, err
	}
	if err := f.SendCreatePost(ctx, post, creator, community); err != nil {
		return nil, err
	}
	return post, nil
}

// CreateLocalComment stores a reply of a local person to a post or comment
// and federates it.
func (f *Federation) CreateLocalComment(ctx context.Context, creator *domain.Actor, parent *PostOrComment, content string) (*domain.Comment, error) {
	comment := &domain.Comment{
		ApId:      fmt.Sprintf("%s/comment/%s", f.BaseURL(), uuid.New()),
		CreatorId: creator.Id,
		Content:   content,
		Local:     true,
		Published: time.Now(),
	}
	if parent.Post != nil {
		comment.PostId = parent.Post.Id
	} else {
		comment.PostId = parent.Comment.PostId
		comment.ParentId = &parent.Comment.Id
	}
	comment, err := f.db.UpsertComment(ctx, comment)
	if err != nil {
		return nil, err
	}
	community, err := parent.Community(ctx, f.NewData())
	if err != nil {
		return nil, err
	}
	if err := f.SendCreateComment(ctx, comment, creator, community); err != nil {
		return nil, err
	}
	return comment, nil
}

// FollowCommunity resolves a community by URL and follows it. Local
// communities are followed directly.
func (f *Federation) FollowCommunity(ctx context.Context, follower *domain.Actor, communityURL string) (*domain.Actor, error) {
	ref, err := NewObjectId[*domain.Actor, communityKind](communityURL)
	if err != nil {
		return nil, err
	}
	community, err := ref.Dereference(ctx, f.NewData())
	if err != nil {
		return nil, err
	}
	if community.Local {
		_, err = f.db.CreateFollow(ctx, &domain.Follow{
			ApId:       f.activityId("Follow"),
			FollowerId: follower.Id,
			TargetId:   community.Id,
		})
		return community, err
	}
	return community, f.SendFollow(ctx, follower, community)
}

// ResolveObject fetches a post or comment by URL, for local actions on
// remote content.
func (f *Federation) ResolveObject(ctx context.Context, rawURL string) (*PostOrComment, error) {
	ref, err := NewObjectId[*PostOrComment, postOrCommentKind](rawURL)
	if err != nil {
		return nil, err
	}
	return ref.Dereference(ctx, f.NewData())
}
