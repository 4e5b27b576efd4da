package main

import (
	"chat-sync/auth"
	"chat-sync/client"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/samber/lo"
)

// Config drives the load test. Every client joins one group and sends Messages messages.
type Config struct {
	GatewayURL string        `envconfig:"GATEWAY_URL" default:"http://localhost:8080"`
	JWTSecret  string        `envconfig:"JWT_SECRET" required:"true"`
	Clients    int           `envconfig:"TESTER_CLIENTS" default:"10"`
	Messages   int           `envconfig:"TESTER_MESSAGES" default:"50"`
	Timeout    time.Duration `envconfig:"TESTER_TIMEOUT" default:"30s"`
	Colours    bool          `envconfig:"TESTER_COLOURS" default:"true"`
}

type report struct {
	acks      atomic.Int64
	received  atomic.Int64
	failed    atomic.Int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (r *report) latency(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latencies = append(r.latencies, d)
}

func main() {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		log.Fatalf("Config error: %v", err)
	}
	color.Enable = config.Colours

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()
	if err := run(ctx, config); err != nil {
		color.Red.Printf("FAILED: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, config Config) error {
	verifier := auth.NewVerifier(config.JWTSecret, time.Hour)
	identities := lo.Times(config.Clients, func(i int) domain.Identity {
		return domain.Identity(fmt.Sprintf("tester-%d", i))
	})
	tokens := make(map[domain.Identity]string, len(identities))
	for _, identity := range identities {
		token, err := verifier.Issue(identity, nil)
		if err != nil {
			return err
		}
		tokens[identity] = token
	}

	rest := resty.New().SetBaseURL(config.GatewayURL).SetTimeout(10 * time.Second)
	var group domain.Conversation
	resp, err := rest.R().
		SetContext(ctx).
		SetAuthToken(tokens[identities[0]]).
		SetBody(map[string]any{"title": "load test", "participants": identities[1:]}).
		SetResult(&group).
		Post("/conversations/group")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusCreated {
		return fmt.Errorf("group creation answered %s", resp.Status())
	}
	header("group " + string(group.ID))

	wsURL := "ws" + strings.TrimPrefix(config.GatewayURL, "http") + "/ws"
	conns := make([]*client.Conn, len(identities))
	for i, identity := range identities {
		conn, err := client.Dial(ctx, wsURL, tokens[identity])
		if err != nil {
			return err
		}
		defer func() { _ = conn.Close() }()
		if err := conn.Subscribe(group.ID); err != nil {
			return err
		}
		conns[i] = conn
	}

	var r report
	expectedPerClient := config.Messages * (config.Clients - 1)
	start := time.Now()
	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		go func(identity domain.Identity, conn *client.Conn) {
			defer wg.Done()
			drive(ctx, config, group.ID, identity, conn, expectedPerClient, &r)
		}(identities[i], conn)
	}
	wg.Wait()
	elapsed := time.Since(start)

	messages, err := history(ctx, rest, tokens[identities[0]], group.ID)
	if err != nil {
		return err
	}

	summary(config, &r, elapsed)
	for i, m := range messages {
		if m.CanonicalID != uint64(i+1) {
			return fmt.Errorf("gap in canonical ids at position %d: got %d", i, m.CanonicalID)
		}
	}
	if want := config.Clients * config.Messages; len(messages) != want || r.acks.Load() != int64(want) {
		return fmt.Errorf("%d stored and %d acks out of %d messages", len(messages), r.acks.Load(), want)
	}
	color.Green.Println("OK: ids gap-free, every message acknowledged")
	return nil
}

// history pages through the whole conversation from the store.
func history(ctx context.Context, rest *resty.Client, token string, id domain.ConversationID) ([]event.MessagePosted, error) {
	var all []event.MessagePosted
	var sinceID uint64
	for {
		var page event.ReconcileResult
		resp, err := rest.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetQueryParams(map[string]string{"conversationId": string(id), "sinceId": fmt.Sprint(sinceID)}).
			SetResult(&page).
			Get("/messages")
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("reconcile answered %s", resp.Status())
		}
		all = append(all, page.Messages...)
		if !page.HasMore || len(page.Messages) == 0 {
			return all, nil
		}
		sinceID = page.Messages[len(page.Messages)-1].CanonicalID
	}
}

// drive sends the messages of one client and reads until it saw every ack and every peer message.
func drive(ctx context.Context, config Config, id domain.ConversationID, identity domain.Identity, conn *client.Conn, expected int, r *report) {
	outbox := client.NewOutbox(id, identity, 0)
	sentAt := make(map[string]time.Time)
	var mu sync.Mutex

	go func() {
		for i := 0; i < config.Messages && ctx.Err() == nil; i++ {
			entry := outbox.Draft(fmt.Sprintf("%s says %d", identity, i), "")
			mu.Lock()
			sentAt[entry.TempID] = time.Now()
			mu.Unlock()
			if err := conn.Send(entry); err != nil {
				r.failed.Add(1)
				return
			}
		}
	}()

	acks, received := 0, 0
	for (acks < config.Messages || received < expected) && ctx.Err() == nil {
		e, err := conn.Next()
		if err != nil {
			return
		}
		client.Apply(outbox, e)
		switch v := e.(type) {
		case event.MessageAck:
			acks++
			r.acks.Add(1)
			mu.Lock()
			r.latency(time.Since(sentAt[v.TempID]))
			mu.Unlock()
		case event.MessagePosted:
			received++
			r.received.Add(1)
		case event.MessageFailed:
			acks++
			r.failed.Add(1)
		}
	}
}

func header(title string) {
	fmt.Println(color.New(color.BgBlack, color.FgGreen).Render(fmt.Sprintf("  ====== %s ======", title)))
}

func summary(config Config, r *report, elapsed time.Duration) {
	header("summary")
	sent := config.Clients * config.Messages
	fmt.Printf("clients=%d messages=%d elapsed=%s throughput=%.0f msg/s\n",
		config.Clients, sent, elapsed.Round(time.Millisecond), float64(sent)/elapsed.Seconds())
	fmt.Printf("acks=%d received=%d failed=%d\n", r.acks.Load(), r.received.Load(), r.failed.Load())
	if len(r.latencies) > 0 {
		avg := lo.Sum(r.latencies) / time.Duration(len(r.latencies))
		fmt.Printf("ack latency avg=%s max=%s\n", avg.Round(time.Microsecond), lo.Max(r.latencies).Round(time.Microsecond))
	}
}
