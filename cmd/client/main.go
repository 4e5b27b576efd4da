package main

import (
	"bufio"
	"chat-sync/auth"
	"chat-sync/client"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
// The token is signed locally with the server secret, as issuance is out of the engine's hands.
type Config struct {
	ServerURL      string `env:"CHAT_SERVER_URL,default=ws://localhost:8080/ws"`
	Identity       string `env:"CHAT_IDENTITY,required=true"`
	ConversationID string `env:"CHAT_CONVERSATION_ID,required=true"`
	JWTSecret      string `env:"JWT_SECRET,required=true"`
	LogLevel       string `env:"LOG_LEVEL,default=INFO"`
}

func main() {
	// The main function manages the OS exit code based on run()'s return.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

// run connects, catches up on the conversation, then sends every stdin line as a message.
func run() (int, error) {
	// 1. Load configuration from environment variables.
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)
	identity := domain.Identity(config.Identity)
	conversationID := domain.ConversationID(config.ConversationID)

	// 2. Setup context to handle termination signals (Ctrl+C).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	token, err := auth.NewVerifier(config.JWTSecret, time.Hour).Issue(identity, nil)
	if err != nil {
		return exitConfig, fmt.Errorf("token error: %w", err)
	}

	// 3. Subscribe first, then reconcile: nothing falls between the two.
	conn, err := client.Dial(ctx, config.ServerURL, token)
	if err != nil {
		return exitRuntime, err
	}
	defer func() {
		log.Info("Closing connection...")
		_ = conn.Close()
	}()
	outbox := client.NewOutbox(conversationID, identity, 0)
	if err := conn.Subscribe(conversationID); err != nil {
		return exitRuntime, err
	}
	if err := conn.Reconcile(conversationID, outbox.Watermark()); err != nil {
		return exitRuntime, err
	}
	log.Info(fmt.Sprintf(">>> Connected to %s as %s (Ctrl+C to quit)", config.ServerURL, identity))

	go readInput(ctx, log, conn, outbox)

	// 4. Event loop, until the context is canceled or the server closes the connection.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	for {
		e, err := conn.Next()
		if err != nil {
			if ctx.Err() != nil {
				return exitOK, nil
			}
			return exitRuntime, fmt.Errorf("connection error: %w", err)
		}
		client.Apply(outbox, e)
		display(identity, e)
	}
}

func readInput(ctx context.Context, log *slog.Logger, conn *client.Conn, outbox *client.Outbox) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := conn.Send(outbox.Draft(text, "")); err != nil {
			log.Warn("Unable to send message", "error", err)
		}
	}
}

func display(self domain.Identity, e event.DomainEvent) {
	switch v := e.(type) {
	case event.MessagePosted:
		fmt.Printf("[%s] %s: %s\n", v.CreatedAt.Local().Format(time.TimeOnly), color.Cyan.Render(v.SenderID), v.Text)
	case event.ReconcileResult:
		for _, m := range v.Messages {
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format(time.TimeOnly), color.Gray.Render(m.SenderID), m.Text)
		}
	case event.MessageAck:
		fmt.Printf("[%s] %s: %s\n", v.CreatedAt.Local().Format(time.TimeOnly), color.Green.Render(self), color.Gray.Render(fmt.Sprintf("#%d", v.CanonicalID)))
	case event.MessageFailed:
		color.Red.Printf("message %s failed: %s\n", v.TempID, v.Reason)
	case event.PresenceDelta:
		state := color.Green.Render("online")
		if !v.Online {
			state = color.Gray.Render("offline")
		}
		fmt.Printf("* %s is %s\n", v.Identity, state)
	case event.TypingUpdate:
		color.Gray.Printf("* %s is typing\n", v.Identity)
	case event.Error:
		color.Red.Printf("error %s: %s\n", v.Code, v.Reason)
	}
}
