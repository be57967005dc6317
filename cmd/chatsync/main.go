// Command chatsync connects to a chat gateway and prints the session state as
// JSON lines each time it changes.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bridalmarket/chatsync"
	"github.com/bridalmarket/chatsync/wire"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	opts, err := loadOptions(logger, os.Args[1:])
	if err != nil {
		logger.Error("invalid options", "error", err)
		os.Exit(2)
	}
	if opts.Debug {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, opts); err != nil {
		logger.Error("chatsync failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, opts *options) error {
	sess, err := chatsync.Open(ctx, chatsync.Config{
		URL:            opts.URL,
		Tokens:         chatsync.StaticTokens{AccessToken: opts.Token},
		Identity:       chatsync.StaticIdentity(opts.User),
		Logger:         logger,
		ConnectTimeout: opts.ConnectTimeout,
		CreateTimeout:  opts.CreateTimeout,
		Notifier: chatsync.NotifierFunc(func(n chatsync.Notification) {
			logger.Info("new message", "conversation", n.ConversationID, "from", n.SenderID, "unread", n.Unread)
		}),
	})
	if err != nil {
		return err
	}
	defer sess.Release()

	changes, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	enc := json.NewEncoder(os.Stdout)
	pending := opts.Room != "" || opts.Open != "" || opts.Send != ""
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
		}
		if pending && sess.Connected() {
			pending = false
			if err := startup(ctx, sess, opts); err != nil {
				logger.Warn("startup action failed", "error", err)
			}
		}
		if err := enc.Encode(sess.Snapshot()); err != nil {
			return err
		}
	}
}

// startup performs the one-shot actions requested on the command line once the
// first connection is up.
func startup(ctx context.Context, sess *chatsync.Session, opts *options) error {
	room := opts.Room
	if opts.Open != "" {
		id, err := sess.CreateConversation(ctx, opts.Open)
		if err != nil {
			return err
		}
		room = id
	}
	if room != "" {
		sess.ChangeRoom(room)
	}
	if opts.Send != "" {
		sess.SendMessage(wire.SendMessage{Content: opts.Send, Type: "text"})
	}
	return nil
}
