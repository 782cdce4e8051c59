package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

// ThreadInfo tracks a thread and the day it is attributed to
type ThreadInfo struct {
	ChannelID    string
	ThreadTS     string
	Day          DayKey // Fixed at thread creation, never recomputed
	LastActivity time.Time
}

// ID returns the store key of the thread
func (ti ThreadInfo) ID() ThreadID {
	return NewThreadID(ti.ChannelID, ti.ThreadTS)
}

// BackfillRunner replays a thread's history into the store
type BackfillRunner interface {
	ScanThread(ctx context.Context, info ThreadInfo) (int, error)
}

// ThreadManager keeps the registry of tracked threads, discovers active
// threads under the parent channel and feeds backfill requests to a
// rate limited worker.
type ThreadManager struct {
	client           SlackAPI
	store            *Store
	stateManager     *StateManager
	scanner          BackfillRunner
	parentChannelID  string
	location         *time.Location
	backfillQueue    chan ThreadInfo
	threads          map[ThreadID]ThreadInfo
	backfilled       map[ThreadID]bool // Queued or scanned since startup
	threadMu         sync.RWMutex
	requestDelay     time.Duration
	threadExpiryDays int
	now              func() time.Time
}

// NewThreadManager creates a new thread manager
func NewThreadManager(
	client SlackAPI,
	store *Store,
	stateManager *StateManager,
	scanner BackfillRunner,
	parentChannelID string,
	location *time.Location,
	requestDelay time.Duration,
	threadExpiryDays int,
) *ThreadManager {
	return &ThreadManager{
		client:           client,
		store:            store,
		stateManager:     stateManager,
		scanner:          scanner,
		parentChannelID:  parentChannelID,
		location:         location,
		backfillQueue:    make(chan ThreadInfo, 1000),
		threads:          make(map[ThreadID]ThreadInfo),
		backfilled:       make(map[ThreadID]bool),
		requestDelay:     requestDelay,
		threadExpiryDays: threadExpiryDays,
		now:              time.Now,
	}
}

// Start restores tracked threads from persistent state, queues a history
// scan for each of them and starts the backfill worker.
func (tm *ThreadManager) Start(ctx context.Context) {
	restored := 0
	for channelID, threads := range tm.stateManager.GetTrackedThreads() {
		for threadTS, lastActivity := range threads {
			info, _, err := tm.Observe(channelID, threadTS, lastActivity)
			if err != nil {
				log.Warn().
					Err(err).
					Str("channelID", channelID).
					Str("threadTS", threadTS).
					Msg("Dropping tracked thread with unreadable timestamp")
				tm.stateManager.RemoveThread(channelID, threadTS)
				continue
			}
			tm.QueueBackfill(info)
			restored++
		}
	}

	go tm.processBackfills(ctx)

	log.Info().
		Int("restoredThreads", restored).
		Str("requestDelay", tm.requestDelay.String()).
		Int("threadExpiryDays", tm.threadExpiryDays).
		Msg("Thread manager started")
}

// Observe records activity in a thread, registering it on first sight.
// The returned bool is true when the thread was not tracked before.
func (tm *ThreadManager) Observe(channelID, threadTS string, activity time.Time) (ThreadInfo, bool, error) {
	id := NewThreadID(channelID, threadTS)

	tm.threadMu.Lock()
	info, known := tm.threads[id]
	if !known {
		day, err := DayKeyFromTS(threadTS, tm.location)
		if err != nil {
			tm.threadMu.Unlock()
			return ThreadInfo{}, false, err
		}
		info = ThreadInfo{
			ChannelID: channelID,
			ThreadTS:  threadTS,
			Day:       day,
		}
	}
	if activity.After(info.LastActivity) {
		info.LastActivity = activity
	}
	tm.threads[id] = info
	tm.threadMu.Unlock()

	if !known {
		tm.store.EnsureThread(info.Day, id)
		log.Debug().
			Str("channelID", channelID).
			Str("threadTS", threadTS).
			Str("day", info.Day.String()).
			Msg("Tracking new thread")
	}
	tm.stateManager.UpdateThreadActivity(channelID, threadTS, info.LastActivity)

	return info, !known, nil
}

// Lookup returns the tracked info for a thread
func (tm *ThreadManager) Lookup(channelID, threadTS string) (ThreadInfo, bool) {
	tm.threadMu.RLock()
	defer tm.threadMu.RUnlock()

	info, ok := tm.threads[NewThreadID(channelID, threadTS)]
	return info, ok
}

// QueueBackfill adds a thread to the backfill queue. A thread is scanned at
// most once per process unless its previous scan failed.
func (tm *ThreadManager) QueueBackfill(info ThreadInfo) {
	id := info.ID()

	tm.threadMu.Lock()
	if tm.backfilled[id] {
		tm.threadMu.Unlock()
		return
	}
	tm.backfilled[id] = true
	tm.threadMu.Unlock()

	select {
	case tm.backfillQueue <- info:
		log.Debug().
			Str("channelID", info.ChannelID).
			Str("threadTS", info.ThreadTS).
			Msg("Backfill request queued")
	default:
		tm.forgetBackfill(id)
		log.Warn().
			Str("channelID", info.ChannelID).
			Str("threadTS", info.ThreadTS).
			Msg("Backfill queue full, request dropped")
	}
}

func (tm *ThreadManager) forgetBackfill(id ThreadID) {
	tm.threadMu.Lock()
	delete(tm.backfilled, id)
	tm.threadMu.Unlock()
}

// processBackfills drains the backfill queue with rate limiting. Each
// thread is scanned independently; a failure only abandons that thread.
func (tm *ThreadManager) processBackfills(ctx context.Context) {
	rateLimiter := time.NewTicker(tm.requestDelay)
	defer rateLimiter.Stop()

	log.Info().
		Str("delay", tm.requestDelay.String()).
		Msg("Starting backfill processor")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("Context done, stopping backfill processor")
			return
		case info := <-tm.backfillQueue:
			select {
			case <-rateLimiter.C:
			case <-ctx.Done():
				return
			}
			tm.runBackfill(ctx, info)
		}
	}
}

func (tm *ThreadManager) runBackfill(ctx context.Context, info ThreadInfo) {
	seeded, err := tm.scanner.ScanThread(ctx, info)
	if err != nil {
		tm.forgetBackfill(info.ID())
		log.Error().
			Err(err).
			Str("channelID", info.ChannelID).
			Str("threadTS", info.ThreadTS).
			Int("seeded", seeded).
			Msg("Backfill aborted for thread")
		return
	}

	log.Info().
		Str("channelID", info.ChannelID).
		Str("threadTS", info.ThreadTS).
		Str("day", info.Day.String()).
		Int("seeded", seeded).
		Msg("Backfill completed for thread")
}

// BackfillActiveThreads discovers the parent channel's active threads and
// queues each one for a history scan.
func (tm *ThreadManager) BackfillActiveThreads(ctx context.Context) error {
	threads, err := tm.ActiveThreads(ctx)
	if err != nil {
		return err
	}

	for _, info := range threads {
		tm.QueueBackfill(info)
	}

	log.Info().
		Str("parentChannelID", tm.parentChannelID).
		Int("threads", len(threads)).
		Msg("Queued startup backfill")
	return nil
}

// ActiveThreads returns the threads under the parent channel with activity
// inside the expiry window. Roots found in channel history are merged with
// threads already tracked.
func (tm *ThreadManager) ActiveThreads(ctx context.Context) ([]ThreadInfo, error) {
	if err := tm.discoverThreads(ctx); err != nil {
		return nil, err
	}

	tm.expireThreads()

	tm.threadMu.RLock()
	active := make([]ThreadInfo, 0, len(tm.threads))
	for _, info := range tm.threads {
		if info.ChannelID == tm.parentChannelID {
			active = append(active, info)
		}
	}
	tm.threadMu.RUnlock()

	sort.Slice(active, func(i, j int) bool { return active[i].ThreadTS < active[j].ThreadTS })
	return active, nil
}

// discoverThreads walks the parent channel history inside the expiry window
// and registers every root message that has replies.
func (tm *ThreadManager) discoverThreads(ctx context.Context) error {
	oldest := tm.now().Add(-tm.expiryWindow())
	params := &slack.GetConversationHistoryParameters{
		ChannelID: tm.parentChannelID,
		Oldest:    formatTS(oldest),
		Limit:     100,
	}

	found := 0
	for {
		log.Trace().
			Str("channelID", tm.parentChannelID).
			Str("oldest", params.Oldest).
			Str("cursor", params.Cursor).
			Msg("Fetching conversation history")

		history, err := tm.client.GetConversationHistoryContext(ctx, params)
		if err != nil {
			return fmt.Errorf("failed to fetch history of channel %s: %w", tm.parentChannelID, err)
		}

		for _, msg := range history.Messages {
			if msg.ReplyCount == 0 {
				continue
			}
			if msg.ThreadTimestamp != "" && msg.ThreadTimestamp != msg.Timestamp {
				continue
			}

			activity := tm.now()
			if msg.LatestReply != "" {
				if t, err := parseSlackTS(msg.LatestReply); err == nil {
					activity = t
				}
			}
			if _, _, err := tm.Observe(tm.parentChannelID, msg.Timestamp, activity); err != nil {
				log.Warn().
					Err(err).
					Str("channelID", tm.parentChannelID).
					Str("threadTS", msg.Timestamp).
					Msg("Skipping thread root with unreadable timestamp")
				continue
			}
			found++
		}

		if !history.HasMore || history.ResponseMetaData.NextCursor == "" {
			break
		}
		params.Cursor = history.ResponseMetaData.NextCursor
	}

	log.Debug().
		Str("channelID", tm.parentChannelID).
		Int("threadsFound", found).
		Msg("Completed thread discovery")
	return nil
}

// expireThreads stops tracking threads without activity inside the expiry window
func (tm *ThreadManager) expireThreads() {
	cutoff := tm.now().Add(-tm.expiryWindow())

	tm.threadMu.Lock()
	expired := make([]ThreadInfo, 0)
	for id, info := range tm.threads {
		if info.LastActivity.Before(cutoff) {
			delete(tm.threads, id)
			delete(tm.backfilled, id)
			expired = append(expired, info)
		}
	}
	tm.threadMu.Unlock()

	for _, info := range expired {
		tm.stateManager.RemoveThread(info.ChannelID, info.ThreadTS)
		log.Debug().
			Str("channelID", info.ChannelID).
			Str("threadTS", info.ThreadTS).
			Time("lastActivity", info.LastActivity).
			Msg("Thread expired from tracking")
	}
}

func (tm *ThreadManager) expiryWindow() time.Duration {
	return time.Duration(tm.threadExpiryDays) * 24 * time.Hour
}

// TrackedCount returns the number of threads currently tracked
func (tm *ThreadManager) TrackedCount() int {
	tm.threadMu.RLock()
	defer tm.threadMu.RUnlock()

	return len(tm.threads)
}

// formatTS renders a time as a Slack timestamp
func formatTS(t time.Time) string {
	return fmt.Sprintf("%s.%06d", strconv.FormatInt(t.Unix(), 10), t.Nanosecond()/1000)
}
