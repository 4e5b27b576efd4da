package repositories

import (
	"chat-sync/domain"
	"chat-sync/errors"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	conv:{conversation_id}                   -> Conversation
//	member:{identity}:{conversation_id}      -> empty (membership index)
//	msg:{conversation_id}:{sequence_20}      -> Message
//	tmp:{conversation_id}:{sender}:{temp_id} -> sequence_20 (idempotency index)
//	read:{conversation_id}:{reader}          -> ReadState
//	job:{job_id}                             -> NotificationJob
//
// Sequences are zero padded to 20 digits so lexicographical order is numeric order.
const (
	conversationPrefix = "conv:"
	memberPrefix       = "member:"
	messagePrefix      = "msg:"
	tempIDPrefix       = "tmp:"
	readPrefix         = "read:"
	jobPrefix          = "job:"
)

// Badger transactions are serializable: two appends racing on the same
// conversation counter make one of them fail with ErrConflict, which is retried.
const maxConflictRetries = 128

func conversationKey(id domain.ConversationID) []byte {
	return []byte(conversationPrefix + string(id))
}

func memberKey(identity domain.Identity, id domain.ConversationID) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", memberPrefix, identity, id))
}

func memberScanPrefix(identity domain.Identity) []byte {
	return []byte(fmt.Sprintf("%s%s:", memberPrefix, identity))
}

func messageKey(id domain.ConversationID, sequence uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", messagePrefix, id, sequence))
}

func messageScanPrefix(id domain.ConversationID) []byte {
	return []byte(fmt.Sprintf("%s%s:", messagePrefix, id))
}

// Identities never contain ':' so the sender segment cannot absorb part of the temp id.
func tempIDKey(id domain.ConversationID, sender domain.Identity, tempID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s", tempIDPrefix, id, sender, tempID))
}

func readKey(id domain.ConversationID, reader domain.Identity) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", readPrefix, id, reader))
}

func jobKey(job domain.NotificationJob) []byte {
	return []byte(jobPrefix + job.ID.String())
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	bytes, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, bytes)
}

func loadConversation(txn *badger.Txn, id domain.ConversationID) (domain.Conversation, error) {
	var conv domain.Conversation
	err := getJSON(txn, conversationKey(id), &conv)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Conversation{}, fmt.Errorf("%w: %s", errors.ErrConversationNotFound, id)
	}
	return conv, err
}

// update runs fn in a read-write transaction and replays it on commit conflicts.
func update(db *badger.DB, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}
