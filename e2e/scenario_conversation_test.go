package e2e

import (
	"chat-sync/client"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

type testConversationSuite struct {
	BaseSuite
}

func TestConversationSuite(t *testing.T) {
	suite.Run(t, &testConversationSuite{})
}

func (s *testConversationSuite) TestOfflinePeerCatchesUp() {
	// Unique identities so the scenario can run against a long-lived server
	run := uuid.NewString()[:8]
	alice := domain.Identity("alice-" + run)
	bob := domain.Identity("bob-" + run)
	var conversation domain.Conversation

	s.Run("Step 0: Open the direct conversation", func() {
		resp, err := s.REST(alice).
			SetBody(map[string]any{"peer": bob}).
			SetResult(&conversation).
			Post("/conversations/direct")
		s.Require().NoError(err)
		s.Require().Equal(http.StatusCreated, resp.StatusCode())
	})

	var watermark uint64
	s.Run("Step 1: Live delivery while both are online", func() {
		s.WithSession("bob connects", bob, func(ctx context.Context, bobConn *client.Conn) {
			// Frames are handled in order: the pong proves the subscription is live
			s.Require().NoError(bobConn.Subscribe(conversation.ID))
			s.Require().NoError(bobConn.Ping())
			s.Await(bobConn, event.PongKind)

			s.WithSession("alice sends", alice, func(ctx context.Context, aliceConn *client.Conn) {
				outbox := client.NewOutbox(conversation.ID, alice, 0)
				s.Require().NoError(aliceConn.Send(outbox.Draft("hello", "")))
				ack := s.Await(aliceConn, event.MessageAckKind).(event.MessageAck)
				s.Require().True(outbox.Ack(ack))
			})

			msg := s.Await(bobConn, event.MessageKind).(event.MessagePosted)
			s.Require().Equal("hello", msg.Text)
			watermark = msg.CanonicalID
		})
	})

	s.Run("Step 2: Messages sent while bob is away", func() {
		s.WithSession("alice sends three more", alice, func(ctx context.Context, conn *client.Conn) {
			outbox := client.NewOutbox(conversation.ID, alice, watermark)
			for i := 0; i < 3; i++ {
				s.Require().NoError(conn.Send(outbox.Draft(fmt.Sprintf("missed %d", i), "")))
				client.Apply(outbox, s.Await(conn, event.MessageAckKind))
			}
			s.Require().Equal(watermark+3, outbox.Watermark())
		})
	})

	s.Run("Step 3: Bob reconciles from his watermark", func() {
		s.WithSession("bob reconnects", bob, func(ctx context.Context, conn *client.Conn) {
			outbox := client.NewOutbox(conversation.ID, bob, watermark)
			s.Require().NoError(conn.Subscribe(conversation.ID))
			s.Require().NoError(conn.Reconcile(conversation.ID, outbox.Watermark()))

			result := s.Await(conn, event.ReconcileResultKind).(event.ReconcileResult)
			s.Require().Equal(3, outbox.Merge(result))
			s.Require().False(result.HasMore)
			s.Require().Equal(watermark+3, outbox.Watermark())
		})
	})
}
