package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ActorType string

const (
	PersonType ActorType = "Person"
	GroupType  ActorType = "Group"
)

// Actor is a person or a community, local or cached from another instance.
type Actor struct {
	Id              uuid.UUID
	ApId            string
	Type            ActorType
	Name            string
	Domain          string
	DisplayName     string
	Summary         string
	InboxURL        string
	SharedInboxURL  string
	FollowersURL    string
	ModeratorsURL   string
	PublicKeyPem    string
	PrivateKeyPem   string // empty for remote actors
	Local           bool
	Deleted         bool
	LastRefreshedAt time.Time
	CreatedAt       time.Time
}

func (a *Actor) IsCommunity() bool {
	return a.Type == GroupType
}

// KeyId is the id of the actor's main key as published in its JSON.
func (a *Actor) KeyId() string {
	return a.ApId + "#main-key"
}

// DeliveryInbox prefers the shared inbox of the actor's instance.
func (a *Actor) DeliveryInbox() string {
	if a.SharedInboxURL != "" {
		return a.SharedInboxURL
	}
	return a.InboxURL
}

func (a *Actor) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tApId: %s \n\tType: %s \n\tLocal: %t \n\tLastRefreshedAt: %s", a.Id, a.ApId, a.Type, a.Local, a.LastRefreshedAt)
}
