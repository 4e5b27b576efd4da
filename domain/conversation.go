// Package domain contains core concepts of the chat system.
// This file defines Conversation entities and their membership rules.
// No runtime, network, or storage logic should be added here.
package domain

import (
	"chat-sync/errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ConversationID string

// Lobby is the reserved channel carrying global presence. It is never stored.
const Lobby ConversationID = "lobby"

// directNamespace seeds the deterministic id of a direct conversation.
var directNamespace = uuid.MustParse("6f1f8a3e-5b52-4c0e-9d3f-0b7d2c9a41e7")

type ConversationKind int

const (
	Direct ConversationKind = iota
	Group
)

func (k ConversationKind) String() string {
	switch k {
	case Direct:
		return "direct"
	case Group:
		return "group"
	default:
		return "unknown"
	}
}

type Conversation struct {
	ID           ConversationID   `json:"id"`
	Kind         ConversationKind `json:"kind"`
	Title        string           `json:"title,omitempty"`
	Participants []Identity       `json:"participants"`
	Sequence     uint64           `json:"sequence"`
	HiddenFor    []Identity       `json:"hiddenFor,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// DirectConversationID returns the same id for a pair regardless of argument order,
// so that the first contact between two identities creates exactly one conversation.
func DirectConversationID(a, b Identity) ConversationID {
	pair := []string{string(a), string(b)}
	slices.Sort(pair)
	return ConversationID(uuid.NewSHA1(directNamespace, []byte(strings.Join(pair, "\x00"))).String())
}

func NewDirectConversation(a, b Identity, at time.Time) Conversation {
	participants := []Identity{a, b}
	slices.Sort(participants)
	return Conversation{
		ID:           DirectConversationID(a, b),
		Kind:         Direct,
		Participants: participants,
		CreatedAt:    at,
	}
}

// NewGroupConversation keeps the creator first, then the other participants in the given order.
func NewGroupConversation(creator Identity, title string, participants []Identity, at time.Time) Conversation {
	members := []Identity{creator}
	for _, p := range participants {
		if !slices.Contains(members, p) {
			members = append(members, p)
		}
	}
	return Conversation{
		ID:           ConversationID(uuid.NewString()),
		Kind:         Group,
		Title:        title,
		Participants: members,
		CreatedAt:    at,
	}
}

func (c Conversation) HasParticipant(id Identity) bool {
	return slices.Contains(c.Participants, id)
}

// Recipients lists every participant except the sender, in participant order.
func (c Conversation) Recipients(sender Identity) []Identity {
	res := make([]Identity, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != sender {
			res = append(res, p)
		}
	}
	return res
}

// AddParticipant is add-only and only allowed on groups. Adding an existing member is a no-op.
func (c Conversation) AddParticipant(id Identity) (Conversation, error) {
	if c.Kind == Direct {
		return c, errors.ErrMembershipImmutable
	}
	if c.HasParticipant(id) {
		return c, nil
	}
	c.Participants = append(slices.Clone(c.Participants), id)
	return c, nil
}

// Hide marks the conversation invisible for one participant. Messages are kept.
func (c Conversation) Hide(id Identity) Conversation {
	if slices.Contains(c.HiddenFor, id) {
		return c
	}
	c.HiddenFor = append(slices.Clone(c.HiddenFor), id)
	return c
}

func (c Conversation) VisibleTo(id Identity) bool {
	return c.HasParticipant(id) && !slices.Contains(c.HiddenFor, id)
}
