package domain

import (
	"chat-sync/errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestDirectConversationID_Is_Symmetric(t *testing.T) {
	req := require.New(t)

	req.Equal(DirectConversationID("alice", "bob"), DirectConversationID("bob", "alice"))
	req.NotEqual(DirectConversationID("alice", "bob"), DirectConversationID("alice", "clara"))
	_, err := uuid.Parse(string(DirectConversationID("alice", "bob")))
	req.NoError(err)
}

func TestConversation_Direct_Membership_Is_Immutable(t *testing.T) {
	req := require.New(t)
	conv := NewDirectConversation("bob", "alice", time.Now())

	// Then participants are ordered
	req.Equal([]Identity{"alice", "bob"}, conv.Participants)

	// When adding a third identity
	_, err := conv.AddParticipant("clara")

	// Then it is refused
	req.ErrorIs(err, errors.ErrMembershipImmutable)
}

func TestConversation_Group_Is_Add_Only(t *testing.T) {
	req := require.New(t)
	conv := NewGroupConversation("alice", "ops", []Identity{"bob", "alice"}, time.Now())
	req.Equal([]Identity{"alice", "bob"}, conv.Participants)

	conv, err := conv.AddParticipant("clara")
	req.NoError(err)
	conv, err = conv.AddParticipant("clara")
	req.NoError(err)

	req.Equal([]Identity{"alice", "bob", "clara"}, conv.Participants)
	req.Equal([]Identity{"alice", "clara"}, conv.Recipients("bob"))
}

func TestConversation_Hide_Is_Per_User(t *testing.T) {
	req := require.New(t)
	conv := NewDirectConversation("alice", "bob", time.Now())

	conv = conv.Hide("alice").Hide("alice")

	req.False(conv.VisibleTo("alice"))
	req.True(conv.VisibleTo("bob"))
	req.False(conv.VisibleTo("clara"))
	req.Len(conv.HiddenFor, 1)
}

func TestReadState_Never_Regresses(t *testing.T) {
	req := require.New(t)
	state := ReadState{ConversationID: "c", Reader: "bob"}
	now := time.Now()

	state, ok := state.Advance(5, now)
	req.True(ok)

	// When an older acknowledgement arrives late
	state, ok = state.Advance(3, now.Add(time.Second))

	// Then it is dropped
	req.False(ok)
	req.Equal(uint64(5), state.UptoID)
	req.True(state.Covers(5))
	req.False(state.Covers(6))
}

func TestValidate_SendMessageCommand(t *testing.T) {
	req := require.New(t)
	convID := ConversationID(uuid.NewString())

	req.NoError(Validate(SendMessageCommand{ConversationID: convID, SenderID: "alice", TempID: "t1", Text: "hi"}))
	req.NoError(Validate(SendMessageCommand{ConversationID: convID, SenderID: "alice", TempID: "t1", AttachmentRef: "s3://a"}))
	req.ErrorIs(Validate(SendMessageCommand{ConversationID: convID, SenderID: "alice", TempID: "t1"}), errors.ErrInvalidCommand)
	req.ErrorIs(Validate(SendMessageCommand{ConversationID: "nope", SenderID: "alice", TempID: "t1", Text: "hi"}), errors.ErrInvalidCommand)
	req.ErrorIs(Validate(ReadCommand{ConversationID: convID, Reader: "bob"}), errors.ErrInvalidCommand)
}

func TestValidateIdentity(t *testing.T) {
	req := require.New(t)
	req.NoError(ValidateIdentity("alice@example.com"))
	req.ErrorIs(ValidateIdentity(""), errors.ErrInvalidIdentity)
	req.ErrorIs(ValidateIdentity("a:b"), errors.ErrInvalidIdentity)
}
