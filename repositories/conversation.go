package repositories

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/errors"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var _ contract.IConversationRepository = ConversationRepository{}

type ConversationRepository struct {
	db  *badger.DB
	log *slog.Logger
	now func() time.Time
}

func NewConversationRepository(db *badger.DB, log *slog.Logger) ConversationRepository {
	return ConversationRepository{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
}

func (r ConversationRepository) Get(id domain.ConversationID) (domain.Conversation, error) {
	var conv domain.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		conv, err = loadConversation(txn, id)
		return err
	})
	return conv, err
}

// OpenDirect returns the direct conversation of the pair, creating it on first contact.
// The boolean reports whether it has just been created.
func (r ConversationRepository) OpenDirect(a, b domain.Identity) (domain.Conversation, bool, error) {
	var conv domain.Conversation
	var created bool
	err := update(r.db, func(txn *badger.Txn) error {
		created = false
		id := domain.DirectConversationID(a, b)
		existing, err := loadConversation(txn, id)
		if err == nil {
			conv = existing
			return nil
		}
		if !errors.Is(err, errors.ErrConversationNotFound) {
			return err
		}
		conv = domain.NewDirectConversation(a, b, r.now())
		created = true
		return r.write(txn, conv)
	})
	if created {
		r.log.Debug("Direct conversation created", "conversation_id", conv.ID)
	}
	return conv, created, err
}

func (r ConversationRepository) CreateGroup(conv domain.Conversation) error {
	return update(r.db, func(txn *badger.Txn) error {
		return r.write(txn, conv)
	})
}

func (r ConversationRepository) AddParticipant(id domain.ConversationID, identity domain.Identity) (domain.Conversation, error) {
	var conv domain.Conversation
	err := update(r.db, func(txn *badger.Txn) error {
		existing, err := loadConversation(txn, id)
		if err != nil {
			return err
		}
		conv, err = existing.AddParticipant(identity)
		if err != nil {
			return err
		}
		return r.write(txn, conv)
	})
	return conv, err
}

func (r ConversationRepository) Hide(id domain.ConversationID, identity domain.Identity) error {
	return update(r.db, func(txn *badger.Txn) error {
		conv, err := loadConversation(txn, id)
		if err != nil {
			return err
		}
		if !conv.HasParticipant(identity) {
			return errors.ErrNotParticipant
		}
		return setJSON(txn, conversationKey(id), conv.Hide(identity))
	})
}

// ListFor uses the membership index and skips conversations hidden by the identity.
func (r ConversationRepository) ListFor(identity domain.Identity) ([]domain.Conversation, error) {
	var res []domain.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := memberScanPrefix(identity)
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := domain.ConversationID(strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
			conv, err := loadConversation(txn, id)
			if err != nil {
				return err
			}
			if conv.VisibleTo(identity) {
				res = append(res, conv)
			}
		}
		return nil
	})
	return res, err
}

func (r ConversationRepository) write(txn *badger.Txn, conv domain.Conversation) error {
	if err := setJSON(txn, conversationKey(conv.ID), conv); err != nil {
		return err
	}
	for _, p := range conv.Participants {
		if err := txn.Set(memberKey(p, conv.ID), []byte{}); err != nil {
			return err
		}
	}
	return nil
}

// ListAll scans every stored conversation, hidden ones included. Used by the inspect tool.
func (r ConversationRepository) ListAll() ([]domain.Conversation, error) {
	var res []domain.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(conversationPrefix)
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var conv domain.Conversation
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &conv)
			}); err != nil {
				return err
			}
			res = append(res, conv)
		}
		return nil
	})
	return res, err
}
