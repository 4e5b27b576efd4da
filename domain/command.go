package domain

import (
	"chat-sync/errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Command interface {
	Conversation() ConversationID
}

type SendMessageCommand struct {
	ConversationID ConversationID `validate:"required,uuid"`
	SenderID       Identity       `validate:"required"`
	TempID         string         `validate:"required,max=128,printascii"`
	Text           string         `validate:"required_without=AttachmentRef"`
	AttachmentRef  string         `validate:"omitempty,max=512"`
}

func (c SendMessageCommand) Conversation() ConversationID { return c.ConversationID }

func (c SendMessageCommand) Draft() MessageDraft {
	return MessageDraft{
		ConversationID: c.ConversationID,
		SenderID:       c.SenderID,
		TempID:         c.TempID,
		Text:           c.Text,
		AttachmentRef:  c.AttachmentRef,
	}
}

type TypingCommand struct {
	ConversationID ConversationID `validate:"required,uuid"`
	Identity       Identity       `validate:"required"`
}

func (c TypingCommand) Conversation() ConversationID { return c.ConversationID }

type ReadCommand struct {
	ConversationID ConversationID `validate:"required,uuid"`
	Reader         Identity       `validate:"required"`
	UptoID         uint64         `validate:"required,gt=0"`
}

func (c ReadCommand) Conversation() ConversationID { return c.ConversationID }

type ReconcileCommand struct {
	ConversationID ConversationID `validate:"required,uuid"`
	Requester      Identity       `validate:"required"`
	SinceID        uint64
	Limit          int `validate:"gte=0"`
}

func (c ReconcileCommand) Conversation() ConversationID { return c.ConversationID }

// Validate checks struct tags and wraps any violation into ErrInvalidCommand.
func Validate(cmd Command) error {
	if err := validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidCommand, err)
	}
	return nil
}
