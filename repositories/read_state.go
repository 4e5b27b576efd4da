package repositories

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/errors"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var _ contract.IReadStateRepository = ReadStateRepository{}

type ReadStateRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewReadStateRepository(db *badger.DB, log *slog.Logger) ReadStateRepository {
	return ReadStateRepository{db: db, log: log}
}

// Get returns the zero watermark when the reader never acknowledged anything.
func (r ReadStateRepository) Get(id domain.ConversationID, reader domain.Identity) (domain.ReadState, error) {
	var state domain.ReadState
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		state, err = loadReadState(txn, id, reader)
		return err
	})
	return state, err
}

// Advance moves the watermark forward inside one transaction. It refuses to
// move backwards and refuses ids the conversation never assigned.
func (r ReadStateRepository) Advance(id domain.ConversationID, reader domain.Identity, uptoID uint64, at time.Time) (domain.ReadState, bool, error) {
	var state domain.ReadState
	var advanced bool
	err := update(r.db, func(txn *badger.Txn) error {
		advanced = false
		conv, err := loadConversation(txn, id)
		if err != nil {
			return err
		}
		current, err := loadReadState(txn, id, reader)
		if err != nil {
			return err
		}
		state = current
		if uptoID > conv.Sequence {
			r.log.Debug("Read acknowledgement beyond last sequence dropped",
				"conversation_id", id, "reader", reader, "upto_id", uptoID, "sequence", conv.Sequence)
			return nil
		}
		state, advanced = current.Advance(uptoID, at)
		if !advanced {
			return nil
		}
		return setJSON(txn, readKey(id, reader), state)
	})
	return state, advanced, err
}

func loadReadState(txn *badger.Txn, id domain.ConversationID, reader domain.Identity) (domain.ReadState, error) {
	state := domain.ReadState{ConversationID: id, Reader: reader}
	err := getJSON(txn, readKey(id, reader), &state)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return state, nil
	}
	return state, err
}

// ListFor returns every stored watermark of a conversation.
func (r ReadStateRepository) ListFor(id domain.ConversationID) ([]domain.ReadState, error) {
	var res []domain.ReadState
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(readPrefix + string(id) + ":")
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var state domain.ReadState
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &state)
			}); err != nil {
				return err
			}
			res = append(res, state)
		}
		return nil
	})
	return res, err
}
