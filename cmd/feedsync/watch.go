package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/UkralStul/feedsync/internal/client"
	"github.com/UkralStul/feedsync/internal/domain"
	"github.com/UkralStul/feedsync/internal/feed/ws"
	"github.com/UkralStul/feedsync/internal/httpapi"
	"github.com/UkralStul/feedsync/internal/remote"
	"github.com/UkralStul/feedsync/internal/store"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect a sync client to a server and log state changes",
	RunE:  runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.String("server-url", "http://localhost:8080", "Server base URL")
	f.String("user-id", "", "Current user id")
	f.StringSlice("post", nil, "Post ids whose comments to load")
	f.Duration("poll-interval", 0, "Unread notifications poll interval")
	f.Duration("correlation-window", 0, "Placeholder correlation window")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.UserID == "" {
		return errors.New("user id must be set (--user-id or FEEDSYNC_USER_ID)")
	}
	postIDs, _ := cmd.Flags().GetStringSlice("post")

	identity := remote.StaticIdentity(cfg.UserID)
	wsURL := "ws" + strings.TrimPrefix(strings.TrimRight(cfg.ServerURL, "/"), "http") + "/ws"
	changes := ws.NewClient(wsURL, ws.DefaultSettings(), logger)

	c, err := client.New(client.Options{
		Remote:            httpapi.New(cfg.ServerURL, identity, cfg.RequestTimeout),
		Feed:              changes,
		Identity:          identity,
		Logger:            logger,
		BatchWait:         cfg.BatchWait,
		CorrelationWindow: cfg.CorrelationWindow,
		PollInterval:      cfg.PollInterval,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error { return changes.Run(ctx) })
	g.Go(func() error { return c.Run(ctx) })

	select {
	case <-c.Ready():
	case <-ctx.Done():
		return g.Wait()
	}

	for _, postID := range postIDs {
		postID := postID
		if err := c.Loader.LoadComments(ctx, postID); err != nil {
			return fmt.Errorf("load comments of %s: %w", postID, err)
		}
		store.Subscribe(c.Store, store.CommentsOf(postID), func(b *store.Bucket[*domain.Comment]) {
			if b == nil {
				return
			}
			logger.Info("comments changed", "post_id", postID, "count", b.Len(), "status", b.Status, "stale", b.Stale)
		})
	}
	if err := c.Loader.LoadFriendships(ctx, cfg.UserID); err != nil {
		return fmt.Errorf("load friendships: %w", err)
	}
	if err := c.Loader.LoadNotifications(ctx, cfg.UserID); err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}
	store.Subscribe(c.Store, store.UnreadCount(cfg.UserID), func(n int) {
		logger.Info("unread notifications", "user_id", cfg.UserID, "count", n)
	})
	store.Subscribe(c.Store, func(s *store.State) int { return len(store.Friends(s, cfg.UserID)) }, func(n int) {
		logger.Info("friends changed", "user_id", cfg.UserID, "count", n)
	})

	logger.Info("watching", "server", cfg.ServerURL, "user_id", cfg.UserID, "posts", postIDs)
	return g.Wait()
}
