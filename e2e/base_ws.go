package e2e

import (
	"chat-sync/auth"
	"chat-sync/client"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gookit/color"
	"github.com/stretchr/testify/suite"
)

type BaseSuite struct {
	suite.Suite
	Config   Config
	verifier *auth.Verifier
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.GatewayURL == "" {
		s.T().Skip("GATEWAY_URL is not set")
	}
	s.verifier = auth.NewVerifier(s.Config.JWTSecret, time.Hour)
}

func (s *BaseSuite) header(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

func (s *BaseSuite) token(identity domain.Identity) string {
	token, err := s.verifier.Issue(identity, nil)
	s.Require().NoError(err)
	return token
}

// REST returns a client authenticated as identity, logging every call
func (s *BaseSuite) REST(identity domain.Identity) *resty.Request {
	return resty.New().
		SetBaseURL(s.Config.GatewayURL).
		SetTimeout(10 * time.Second).
		OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
			line := fmt.Sprintf("HTTP %s %s [%d] in %v", resp.Request.Method, resp.Request.URL, resp.StatusCode(), resp.Time())
			if s.Config.DebugJSON {
				line += "\nRESPONSE:\n" + string(resp.Body())
			}
			s.T().Log(line)
			return nil
		}).
		R().
		SetAuthToken(s.token(identity))
}

// WithSession provides a connected websocket session within a contextual test step
func (s *BaseSuite) WithSession(name string, identity domain.Identity, fn func(ctx context.Context, conn *client.Conn)) {
	s.header(name)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(s.Config.GatewayURL, "http") + "/ws"
	conn, err := client.Dial(ctx, url, s.token(identity))
	s.Require().NoError(err, "Failed to connect to gateway at "+url)
	defer conn.Close()

	fn(ctx, conn)
}

// Await reads events until one of the wanted kind arrives
func (s *BaseSuite) Await(conn *client.Conn, kind event.Kind) event.DomainEvent {
	for {
		e, err := conn.Next()
		s.Require().NoError(err)
		if e.Kind() == kind {
			return e
		}
	}
}
