package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

// DefaultReportSchedule posts the daily summary at 16:00
const DefaultReportSchedule = "0 16 * * *"

// ActiveThreadLister lists the threads the daily report is posted into
type ActiveThreadLister interface {
	ActiveThreads(ctx context.Context) ([]ThreadInfo, error)
}

// Reporter posts each active thread's total into the thread once a day
type Reporter struct {
	client    SlackAPI
	store     *Store
	threads   ActiveThreadLister
	formatter *MessageFormatter
	schedule  string
	cron      *cron.Cron
}

// NewReporter creates a reporter firing on a standard five-field cron
// schedule evaluated in location.
func NewReporter(client SlackAPI, store *Store, threads ActiveThreadLister, formatter *MessageFormatter, schedule string, location *time.Location) (*Reporter, error) {
	cronLogger := log.With().Str("component", "cron").Logger()
	c := cron.New(
		cron.WithLocation(location),
		cron.WithLogger(cron.PrintfLogger(&cronLogger)),
	)

	r := &Reporter{
		client:    client,
		store:     store,
		threads:   threads,
		formatter: formatter,
		schedule:  schedule,
		cron:      c,
	}

	if _, err := c.AddFunc(schedule, r.fire); err != nil {
		return nil, fmt.Errorf("invalid report schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start begins the schedule
func (r *Reporter) Start() {
	r.cron.Start()

	entries := r.cron.Entries()
	next := time.Time{}
	if len(entries) > 0 {
		next = entries[0].Next
	}
	log.Info().
		Str("schedule", r.schedule).
		Time("next", next).
		Msg("Daily reporter started")
}

// Stop halts the schedule and waits for a running report to finish
func (r *Reporter) Stop() {
	<-r.cron.Stop().Done()
	log.Info().Msg("Daily reporter stopped")
}

func (r *Reporter) fire() {
	if err := r.Report(context.Background()); err != nil {
		log.Error().Err(err).Msg("Daily summary failed")
	}
}

// Report posts the current total into every active thread. A failure to
// list threads abandons this firing; a failed post only skips that thread.
func (r *Reporter) Report(ctx context.Context) error {
	threads, err := r.threads.ActiveThreads(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active threads: %w", err)
	}

	posted := 0
	for _, info := range threads {
		total := r.store.ThreadTotal(info.Day, info.ID())
		_, _, err := r.client.PostMessageContext(ctx, info.ChannelID,
			slack.MsgOptionText(r.formatter.DailyReport(total), false),
			slack.MsgOptionTS(info.ThreadTS),
		)
		if err != nil {
			log.Error().
				Err(err).
				Str("channelID", info.ChannelID).
				Str("threadTS", info.ThreadTS).
				Msg("Failed to post daily total")
			continue
		}
		posted++

		log.Debug().
			Str("channelID", info.ChannelID).
			Str("threadTS", info.ThreadTS).
			Str("day", info.Day.String()).
			Float64("total", total).
			Msg("Posted daily total")
	}

	log.Info().
		Int("threads", len(threads)).
		Int("posted", posted).
		Msg("Daily summary completed")
	return nil
}
