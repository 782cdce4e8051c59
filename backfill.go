package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

// DefaultPageSize is the number of replies fetched per history page
const DefaultPageSize = 100

// BackfillScanner rebuilds entries from a thread's message history after a
// restart. History replay never sends replies.
type BackfillScanner struct {
	client       SlackAPI
	store        *Store
	stateManager *StateManager
	botUserID    string
	pageSize     int
	pageDelay    time.Duration
}

// NewBackfillScanner creates a new scanner
func NewBackfillScanner(client SlackAPI, store *Store, stateManager *StateManager, botUserID string, pageSize int, pageDelay time.Duration) *BackfillScanner {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &BackfillScanner{
		client:       client,
		store:        store,
		stateManager: stateManager,
		botUserID:    botUserID,
		pageSize:     pageSize,
		pageDelay:    pageDelay,
	}
}

// ScanThread pages through every reply of a thread and seeds the store with
// numeric ones. Messages already recorded by live events are left untouched.
// Returns the number of entries seeded.
func (bs *BackfillScanner) ScanThread(ctx context.Context, info ThreadInfo) (int, error) {
	thread := info.ID()
	seeded := 0
	pages := 0

	params := &slack.GetConversationRepliesParameters{
		ChannelID: info.ChannelID,
		Timestamp: info.ThreadTS,
		Limit:     bs.pageSize,
	}

	for {
		if pages > 0 && bs.pageDelay > 0 {
			select {
			case <-ctx.Done():
				return seeded, ctx.Err()
			case <-time.After(bs.pageDelay):
			}
		}
		pages++

		log.Trace().
			Str("channelID", info.ChannelID).
			Str("threadTS", info.ThreadTS).
			Str("cursor", params.Cursor).
			Int("page", pages).
			Msg("Fetching thread replies")

		replies, hasMore, nextCursor, err := bs.client.GetConversationRepliesContext(ctx, params)
		if err != nil {
			return seeded, fmt.Errorf("failed to fetch replies of thread %s (page %d): %w", thread, pages, err)
		}
		if len(replies) == 0 {
			break
		}

		for _, reply := range replies {
			// Skip the parent message and bot messages
			if reply.Timestamp == info.ThreadTS || isBotAuthor(reply.User, reply.BotID, bs.botUserID) {
				continue
			}

			value, ok := parseValue(reply.Text)
			if !ok {
				continue
			}

			acked := bs.stateManager.IsAcknowledged(info.ChannelID, reply.Timestamp)
			if bs.store.Seed(info.Day, thread, MessageID(reply.Timestamp), reply.User, value, acked) {
				seeded++
			}
		}

		if !hasMore || nextCursor == "" || len(replies) < bs.pageSize {
			break
		}
		params.Cursor = nextCursor
	}

	log.Debug().
		Str("channelID", info.ChannelID).
		Str("threadTS", info.ThreadTS).
		Int("pages", pages).
		Int("seeded", seeded).
		Msg("Scanned thread history")

	return seeded, nil
}
