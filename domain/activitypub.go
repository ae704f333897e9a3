package domain

import (
	"time"

	"github.com/google/uuid"
)

// Follow is a follow relationship; Pending until the target sends Accept.
type Follow struct {
	Id         uuid.UUID
	ApId       string
	FollowerId uuid.UUID
	TargetId   uuid.UUID
	Pending    bool
	CreatedAt  time.Time
}

type CommunityBan struct {
	CommunityId uuid.UUID
	PersonId    uuid.UUID
	CreatedAt   time.Time
}

// Instance is one known remote (or the local) server, keyed by authority.
type Instance struct {
	Id        int64
	Domain    string
	Software  string
	Updated   *time.Time
	CreatedAt time.Time
}

// SentActivity is one entry of the local outbox sequence. Id grows
// monotonically and is the cursor the per-instance workers advance over.
type SentActivity struct {
	Id                      int64
	ApId                    string
	Kind                    string
	Data                    string
	ActorApId               string
	Sensitive               bool
	SendInboxes             []string
	SendCommunityFollowerOf *uuid.UUID
	SendAllInstances        bool
	Published               time.Time
}

// FederationQueueState is the durable delivery progress for one instance.
type FederationQueueState struct {
	InstanceId              int64
	LastSuccessfulId        int64
	FailCount               int
	LastRetry               *time.Time
	LastSuccessfulPublished *time.Time
}
