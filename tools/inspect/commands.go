package main

import (
	"chat-sync/domain"
	"chat-sync/repositories"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
)

func conversationsCommand() *cli.Command {
	return &cli.Command{
		Name:  "conversations",
		Usage: "List every conversation, hidden ones included",
		Action: func(ctx context.Context, c *cli.Command) error {
			return withDB(c, func(db *badger.DB) error {
				conversations, err := repositories.NewConversationRepository(db, slog.Default()).ListAll()
				if err != nil {
					return err
				}
				table := newTable(c.Root().Writer, "ID", "Kind", "Title", "Participants", "Sequence", "Hidden for", "Created")
				for _, conv := range conversations {
					table.Append([]string{
						string(conv.ID),
						conv.Kind.String(),
						conv.Title,
						join(conv.Participants),
						fmt.Sprint(conv.Sequence),
						join(conv.HiddenFor),
						conv.CreatedAt.Format(time.RFC3339),
					})
				}
				table.Render()
				return nil
			})
		},
	}
}

func messagesCommand() *cli.Command {
	return &cli.Command{
		Name:  "messages",
		Usage: "List the messages of a conversation after a canonical id",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "conversation", Aliases: []string{"c"}, Required: true},
			&cli.Uint64Flag{Name: "since", Value: 0},
			&cli.IntFlag{Name: "limit", Value: 100},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return withDB(c, func(db *badger.DB) error {
				id := domain.ConversationID(c.String("conversation"))
				messages, hasMore, err := repositories.NewMessageRepository(db, slog.Default(), int(c.Int("limit"))).
					GetMessagesSince(id, c.Uint64("since"), int(c.Int("limit")))
				if err != nil {
					return err
				}
				table := newTable(c.Root().Writer, "ID", "Sender", "Temp ID", "Lang", "Text", "Created")
				for _, m := range messages {
					table.Append([]string{
						fmt.Sprint(m.ID),
						string(m.SenderID),
						m.TempID,
						m.Lang,
						m.Text,
						m.CreatedAt.Format(time.RFC3339Nano),
					})
				}
				table.Render()
				if hasMore {
					fmt.Fprintln(c.Root().Writer, color.Yellow.Render(fmt.Sprintf("more messages after %d", messages[len(messages)-1].ID)))
				}
				return nil
			})
		},
	}
}

func readsCommand() *cli.Command {
	return &cli.Command{
		Name:  "reads",
		Usage: "List the read watermarks of a conversation",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "conversation", Aliases: []string{"c"}, Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return withDB(c, func(db *badger.DB) error {
				states, err := repositories.NewReadStateRepository(db, slog.Default()).
					ListFor(domain.ConversationID(c.String("conversation")))
				if err != nil {
					return err
				}
				table := newTable(c.Root().Writer, "Reader", "Up to", "Read at")
				for _, s := range states {
					table.Append([]string{string(s.Reader), fmt.Sprint(s.UptoID), s.ReadAt.Format(time.RFC3339)})
				}
				table.Render()
				return nil
			})
		},
	}
}

func jobsCommand() *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "List notification jobs, oldest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Usage: "deferred, pending, sent or failed"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return withDB(c, func(db *badger.DB) error {
				jobs, err := repositories.NewNotificationRepository(db, slog.Default()).ListJobs()
				if err != nil {
					return err
				}
				table := newTable(c.Root().Writer, "ID", "Target", "Conversation", "Message", "Status", "Attempts", "Last error")
				for _, job := range jobs {
					if status := c.String("status"); status != "" && job.Status.String() != status {
						continue
					}
					table.Append([]string{
						job.ID.String(),
						string(job.Target),
						string(job.ConversationID),
						fmt.Sprint(job.MessageID),
						statusColor(job.Status).Render(job.Status.String()),
						fmt.Sprint(job.Attempts),
						job.LastError,
					})
				}
				table.Render()
				return nil
			})
		},
	}
}

// withDB opens Badger read-only. BypassLockGuard allows inspecting while the server runs.
func withDB(c *cli.Command, fn func(db *badger.DB) error) error {
	color.Enable = !c.Bool("no-color")
	db, err := badger.Open(badger.DefaultOptions(c.String("db")).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("opening badger at %s: %w", c.String("db"), err)
	}
	defer db.Close()
	return fn(db)
}

func newTable(w io.Writer, headers ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func statusColor(status domain.JobStatus) color.Color {
	switch status {
	case domain.JobSent:
		return color.Green
	case domain.JobFailed:
		return color.Red
	case domain.JobDeferred:
		return color.Cyan
	default:
		return color.Yellow
	}
}

func join(identities []domain.Identity) string {
	res := make([]string, 0, len(identities))
	for _, identity := range identities {
		res = append(res, string(identity))
	}
	return strings.Join(res, ",")
}
