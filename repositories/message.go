package repositories

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/errors"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var _ contract.IMessageRepository = MessageRepository{}

type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages int
}

// NewMessageRepository caps every reconciliation page at limitMessages.
func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages int) MessageRepository {
	return MessageRepository{db: db, log: log, limitMessages: limitMessages}
}

// AppendMessage persists a draft in a single transaction that:
//  1. Resolves the idempotency key "tmp:{conversation}:{sender}:{temp_id}". A hit returns
//     the stored message with duplicate=true, whatever the number of retries. Temp ids
//     are only unique per sender, another sender reusing one gets its own message.
//  2. Increments the conversation sequence and stores the message under it, so
//     canonical ids are gap-free with respect to acceptance order.
func (m MessageRepository) AppendMessage(draft domain.MessageDraft, at time.Time) (domain.Message, bool, error) {
	var message domain.Message
	var duplicate bool
	// Stored timestamps lose the monotonic reading, strip it now so replays compare equal
	at = at.UTC().Round(0)
	err := update(m.db, func(txn *badger.Txn) error {
		duplicate = false
		existing, found, err := findByTempID(txn, draft.ConversationID, draft.SenderID, draft.TempID)
		if err != nil {
			return err
		}
		if found {
			message, duplicate = existing, true
			return nil
		}

		conv, err := loadConversation(txn, draft.ConversationID)
		if err != nil {
			return err
		}
		conv.Sequence++
		message = domain.Message{
			ID:             conv.Sequence,
			ConversationID: conv.ID,
			SenderID:       draft.SenderID,
			TempID:         draft.TempID,
			Text:           draft.Text,
			AttachmentRef:  draft.AttachmentRef,
			Lang:           draft.Lang,
			CreatedAt:      at,
		}
		if err = setJSON(txn, conversationKey(conv.ID), conv); err != nil {
			return err
		}
		if err = setJSON(txn, messageKey(conv.ID, message.ID), message); err != nil {
			return err
		}
		return txn.Set(tempIDKey(conv.ID, draft.SenderID, draft.TempID), []byte(fmt.Sprintf("%020d", message.ID)))
	})
	if err != nil {
		return domain.Message{}, false, err
	}
	return message, duplicate, nil
}

func findByTempID(txn *badger.Txn, id domain.ConversationID, sender domain.Identity, tempID string) (domain.Message, bool, error) {
	item, err := txn.Get(tempIDKey(id, sender, tempID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Message{}, false, nil
	}
	if err != nil {
		return domain.Message{}, false, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return domain.Message{}, false, err
	}
	sequence, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return domain.Message{}, false, err
	}
	var message domain.Message
	if err = getJSON(txn, messageKey(id, sequence), &message); err != nil {
		return domain.Message{}, false, err
	}
	return message, true, nil
}

// GetMessagesSince returns messages with a canonical id strictly greater than sinceID,
// in ascending order. hasMore is true when the page limit cut the result.
// A limit <= 0 or above the repository cap uses the cap.
func (m MessageRepository) GetMessagesSince(id domain.ConversationID, sinceID uint64, limit int) ([]domain.Message, bool, error) {
	if limit <= 0 || (m.limitMessages > 0 && limit > m.limitMessages) {
		limit = m.limitMessages
	}
	messages := make([]domain.Message, 0)
	hasMore := false
	err := m.db.View(func(txn *badger.Txn) error {
		if _, err := loadConversation(txn, id); err != nil {
			return err
		}
		if sinceID == math.MaxUint64 {
			// Nothing can follow, and sinceID+1 would wrap to the first message
			return nil
		}
		prefix := messageScanPrefix(id)
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(messageKey(id, sinceID+1)); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(messages) == limit {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", limit))
				hasMore = true
				break
			}
			var message domain.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &message)
			}); err != nil {
				return err
			}
			messages = append(messages, message)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return messages, hasMore, nil
}
