package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// Message subtypes carrying edits and deletions
const (
	subtypeMessageChanged  = "message_changed"
	subtypeMessageDeleted  = "message_deleted"
	subtypeThreadBroadcast = "thread_broadcast"
)

func (b *Bot) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		log.Info().Msg("Connecting to Socket Mode")

	case socketmode.EventTypeConnected:
		log.Info().Msg("Connected to Socket Mode")
		b.readyOnce.Do(func() {
			go b.onReady(ctx)
		})

	case socketmode.EventTypeConnectionError:
		log.Warn().Interface("data", evt.Data).Msg("Socket Mode connection error")

	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		b.socketMode.Ack(*evt.Request)
		b.handleEventsAPI(ctx, eventsAPIEvent)

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		b.socketMode.Ack(*evt.Request)
		b.handleSlashCommand(ctx, cmd)
	}
}

func (b *Bot) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}

	ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}

	msg, ok := toMessageEvent(ev)
	if !ok {
		return
	}

	if err := b.ingestor.Handle(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("kind", msg.Kind.String()).
			Str("channelID", msg.ChannelID).
			Str("messageTS", msg.MessageTS).
			Msg("Failed to handle message event")
	}
}

// toMessageEvent translates a Slack message event into a MessageEvent.
// Subtypes other than edits, deletions and broadcasts are dropped.
func toMessageEvent(ev *slackevents.MessageEvent) (MessageEvent, bool) {
	switch ev.SubType {
	case "", subtypeThreadBroadcast:
		return MessageEvent{
			Kind:      MessageCreated,
			ChannelID: ev.Channel,
			ThreadTS:  ev.ThreadTimeStamp,
			MessageTS: ev.TimeStamp,
			UserID:    ev.User,
			BotID:     ev.BotID,
			Text:      ev.Text,
		}, true

	case subtypeMessageChanged:
		if ev.Message == nil {
			return MessageEvent{}, false
		}
		return MessageEvent{
			Kind:      MessageEdited,
			ChannelID: ev.Channel,
			ThreadTS:  ev.Message.ThreadTimeStamp,
			MessageTS: ev.Message.TimeStamp,
			UserID:    ev.Message.User,
			BotID:     ev.Message.BotID,
			Text:      ev.Message.Text,
		}, true

	case subtypeMessageDeleted:
		if ev.PreviousMessage == nil {
			return MessageEvent{}, false
		}
		return MessageEvent{
			Kind:      MessageDeleted,
			ChannelID: ev.Channel,
			ThreadTS:  ev.PreviousMessage.ThreadTimeStamp,
			MessageTS: ev.PreviousMessage.TimeStamp,
			UserID:    ev.PreviousMessage.User,
			BotID:     ev.PreviousMessage.BotID,
		}, true

	default:
		return MessageEvent{}, false
	}
}

func (b *Bot) handleSlashCommand(ctx context.Context, cmd slack.SlashCommand) {
	resp := b.queries.Respond(cmd)

	log.Debug().
		Str("command", cmd.Command).
		Str("text", cmd.Text).
		Str("user", cmd.UserID).
		Bool("ephemeral", resp.Ephemeral).
		Msg("Answering slash command")

	responseType := slack.ResponseTypeInChannel
	if resp.Ephemeral {
		responseType = slack.ResponseTypeEphemeral
	}

	_, _, err := b.client.PostMessageContext(ctx, cmd.ChannelID,
		slack.MsgOptionText(resp.Text, false),
		slack.MsgOptionResponseURL(cmd.ResponseURL, responseType),
	)
	if err != nil {
		log.Error().
			Err(err).
			Str("command", cmd.Command).
			Str("channelID", cmd.ChannelID).
			Msg("Failed to answer slash command")
	}
}
