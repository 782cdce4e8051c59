package main

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

// MessageEventKind is the lifecycle change carried by a MessageEvent
type MessageEventKind int

const (
	MessageCreated MessageEventKind = iota
	MessageEdited
	MessageDeleted
)

func (k MessageEventKind) String() string {
	switch k {
	case MessageCreated:
		return "created"
	case MessageEdited:
		return "edited"
	case MessageDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// MessageEvent is a platform-neutral message lifecycle event
type MessageEvent struct {
	Kind      MessageEventKind
	ChannelID string
	ThreadTS  string // Empty for messages outside a thread
	MessageTS string
	UserID    string
	BotID     string
	Text      string
}

// InThread reports whether the message is a reply inside a thread
func (ev MessageEvent) InThread() bool {
	return ev.ThreadTS != "" && ev.ThreadTS != ev.MessageTS
}

// Ingestor applies message events to the store and acknowledges each
// recorded message at most once.
type Ingestor struct {
	client       SlackAPI
	store        *Store
	threads      *ThreadManager
	stateManager *StateManager
	formatter    *MessageFormatter
	botUserID    string
}

// NewIngestor creates a new event ingestor
func NewIngestor(client SlackAPI, store *Store, threads *ThreadManager, stateManager *StateManager, formatter *MessageFormatter, botUserID string) *Ingestor {
	return &Ingestor{
		client:       client,
		store:        store,
		threads:      threads,
		stateManager: stateManager,
		formatter:    formatter,
		botUserID:    botUserID,
	}
}

// Handle applies one message event. Events outside threads, from bots, or
// with non-numeric bodies are ignored without error.
func (in *Ingestor) Handle(ctx context.Context, ev MessageEvent) error {
	if !ev.InThread() {
		return nil
	}
	if ev.Kind != MessageDeleted && isBotAuthor(ev.UserID, ev.BotID, in.botUserID) {
		return nil
	}

	activity := time.Now()
	if t, err := parseSlackTS(ev.MessageTS); err == nil && ev.Kind == MessageCreated {
		activity = t
	}

	info, isNew, err := in.threads.Observe(ev.ChannelID, ev.ThreadTS, activity)
	if err != nil {
		return fmt.Errorf("failed to resolve thread %s in %s: %w", ev.ThreadTS, ev.ChannelID, err)
	}
	if isNew {
		// First sight of this thread: recover whatever was posted before
		in.threads.QueueBackfill(info)
	}

	switch ev.Kind {
	case MessageDeleted:
		in.remove(info, ev)
		return nil
	case MessageCreated, MessageEdited:
		return in.record(ctx, info, ev)
	default:
		return nil
	}
}

func (in *Ingestor) record(ctx context.Context, info ThreadInfo, ev MessageEvent) error {
	value, ok := parseValue(ev.Text)
	if !ok {
		log.Trace().
			Str("channelID", ev.ChannelID).
			Str("messageTS", ev.MessageTS).
			Msg("Ignoring non-numeric message")
		return nil
	}

	thread := info.ID()
	msg := MessageID(ev.MessageTS)

	_, inserted := in.store.Upsert(info.Day, thread, msg, ev.UserID, value)
	if inserted && in.stateManager.IsAcknowledged(ev.ChannelID, ev.MessageTS) {
		// Replied to before a restart
		in.store.Acknowledge(info.Day, thread, msg)
	}
	total := in.store.ThreadTotal(info.Day, thread)

	log.Debug().
		Str("kind", ev.Kind.String()).
		Str("channelID", ev.ChannelID).
		Str("threadTS", ev.ThreadTS).
		Str("messageTS", ev.MessageTS).
		Str("user", ev.UserID).
		Float64("value", value).
		Float64("threadTotal", total).
		Str("day", info.Day.String()).
		Msg("Recorded entry")

	if !in.store.Acknowledge(info.Day, thread, msg) {
		return nil
	}
	in.stateManager.MarkAcknowledged(ev.ChannelID, ev.MessageTS)

	text := in.formatter.Recorded(value, info.Day, total)
	if ev.Kind == MessageEdited {
		text = in.formatter.Updated(value, info.Day, total)
	}

	_, _, err := in.client.PostMessageContext(ctx, ev.ChannelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(ev.ThreadTS),
	)
	if err != nil {
		return fmt.Errorf("failed to acknowledge message %s: %w", ev.MessageTS, err)
	}
	return nil
}

func (in *Ingestor) remove(info ThreadInfo, ev MessageEvent) {
	entry, ok := in.store.Remove(info.Day, info.ID(), MessageID(ev.MessageTS))
	in.stateManager.ForgetAcknowledged(ev.ChannelID, ev.MessageTS)
	if !ok {
		return
	}

	log.Debug().
		Str("channelID", ev.ChannelID).
		Str("threadTS", ev.ThreadTS).
		Str("messageTS", ev.MessageTS).
		Float64("value", entry.Value).
		Str("day", info.Day.String()).
		Msg("Removed entry")
}

// parseValue reads a message body as a number. The whole trimmed body must
// be a finite decimal; "12abc" and "0x10" are rejected.
func parseValue(text string) (float64, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}
	// ParseFloat also reads hex floats ("0x1p4")
	digits := strings.TrimLeft(text, "+-")
	if strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X") {
		return 0, false
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// isBotAuthor reports whether a message came from a bot or from this app
func isBotAuthor(userID, botID, selfUserID string) bool {
	return botID != "" || (selfUserID != "" && userID == selfUserID)
}
