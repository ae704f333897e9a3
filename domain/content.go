package domain

import (
	"time"

	"github.com/google/uuid"
)

// Post is a link or text submission to a community.
type Post struct {
	Id          uuid.UUID
	ApId        string
	CommunityId uuid.UUID
	CreatorId   uuid.UUID
	Name        string
	URL         string
	Body        string
	Local       bool
	Deleted     bool
	Published   time.Time
	Updated     *time.Time
}

// Comment belongs to a post and optionally replies to another comment.
type Comment struct {
	Id        uuid.UUID
	ApId      string
	PostId    uuid.UUID
	ParentId  *uuid.UUID
	CreatorId uuid.UUID
	Content   string
	Local     bool
	Deleted   bool
	Published time.Time
	Updated   *time.Time
}

// Vote is keyed by (ActorId, ObjectApId); Score is +1 or -1.
type Vote struct {
	Id         uuid.UUID
	ApId       string
	ActorId    uuid.UUID
	ObjectApId string
	Score      int
	CreatedAt  time.Time
}

// Report flags a post or comment to the moderators of its community.
type Report struct {
	Id          uuid.UUID
	ApId        string
	ReporterId  uuid.UUID
	CommunityId uuid.UUID
	ObjectApId  string
	Reason      string
	Resolved    bool
	ResolverId  *uuid.UUID
	CreatedAt   time.Time
}
