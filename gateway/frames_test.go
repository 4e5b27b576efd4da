package gateway

import (
	"chat-sync/domain/event"
	"chat-sync/errors"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeEvent_Flattens_Type_And_Fields(t *testing.T) {
	req := require.New(t)

	data, err := EncodeEvent(event.MessageAck{TempID: "t1", ConversationID: "c1", CanonicalID: 7, Sequence: 7})
	req.NoError(err)

	var decoded map[string]any
	req.NoError(json.Unmarshal(data, &decoded))
	req.Equal("message_ack", decoded["type"])
	req.Equal("t1", decoded["tempId"])
	req.Equal(float64(7), decoded["canonicalId"])
	req.NotContains(decoded, "duplicate")
}

func TestEncodeEvent_Broadcast_Has_No_TempID(t *testing.T) {
	req := require.New(t)

	data, err := EncodeEvent(event.MessagePosted{CanonicalID: 1, ConversationID: "c1", SenderID: "alice", Text: "hi"})
	req.NoError(err)

	req.NotContains(string(data), "tempId")
	req.Contains(string(data), `"type":"message"`)
}

func TestParseFrame(t *testing.T) {
	req := require.New(t)

	f, err := ParseFrame([]byte(`{"type":"read","conversationId":"c1","uptoId":12}`))
	req.NoError(err)
	req.Equal(ReadFrame, f.Type)
	req.Equal(uint64(12), f.UptoID)

	_, err = ParseFrame([]byte(`{"conversationId":"c1"}`))
	req.ErrorIs(err, errors.ErrInvalidCommand)

	_, err = ParseFrame([]byte(`not json`))
	req.ErrorIs(err, errors.ErrInvalidCommand)
}

func TestErrorEvent_Carries_Code_And_Ref(t *testing.T) {
	req := require.New(t)

	e := ErrorEvent(fmt.Errorf("%w: bob in c1", errors.ErrNotParticipant), "r42")

	req.Equal("not_participant", e.Code)
	req.Equal("r42", e.Ref)
	req.Contains(e.Reason, "bob in c1")
}
