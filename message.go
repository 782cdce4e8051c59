package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// MessageFormatter handles formatting of messages sent by the app
type MessageFormatter struct{}

// NewMessageFormatter creates a new formatter
func NewMessageFormatter() *MessageFormatter {
	return &MessageFormatter{}
}

// formatValue renders a recorded value the way the user typed it ("3", "4.5")
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatTotal renders a sum with one decimal place
func formatTotal(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// Recorded acknowledges a newly created entry
func (mf *MessageFormatter) Recorded(value float64, day DayKey, threadTotal float64) string {
	return fmt.Sprintf("✅ Recorded %s. Total for this thread on %s: %s",
		formatValue(value), day, formatTotal(threadTotal))
}

// Updated acknowledges an edit of a message that was never acknowledged
func (mf *MessageFormatter) Updated(value float64, day DayKey, threadTotal float64) string {
	return fmt.Sprintf("✅ Updated %s. Total for this thread on %s: %s",
		formatValue(value), day, formatTotal(threadTotal))
}

// DailyReport is posted into each active thread by the scheduler
func (mf *MessageFormatter) DailyReport(threadTotal float64) string {
	return fmt.Sprintf("📊 Today's total: %s", formatTotal(threadTotal))
}

// DayTotal answers /total
func (mf *MessageFormatter) DayTotal(day DayKey, total float64) string {
	return fmt.Sprintf("📊 %s total: %s", day, formatTotal(total))
}

// UserTotal answers /user_total
func (mf *MessageFormatter) UserTotal(userID string, start, end DayKey, total float64) string {
	return fmt.Sprintf("📊 <@%s> total %s: %s", userID, describeRange(start, end), formatTotal(total))
}

// RangeTotal answers /range_total
func (mf *MessageFormatter) RangeTotal(start, end DayKey, total float64) string {
	return fmt.Sprintf("📊 Total for all users %s: %s", describeRange(start, end), formatTotal(total))
}

func describeRange(start, end DayKey) string {
	if start == end {
		return fmt.Sprintf("on %s", start)
	}
	return fmt.Sprintf("from %s to %s", start, end)
}

// StateRetainer handles cleanup of old acknowledgment and thread records
type StateRetainer struct {
	stateManager *StateManager
	retention    time.Duration
	done         chan bool
}

// NewStateRetainer creates a new retention manager
func NewStateRetainer(stateManager *StateManager, retentionDays int) *StateRetainer {
	return &StateRetainer{
		stateManager: stateManager,
		retention:    time.Duration(retentionDays) * 24 * time.Hour,
		done:         make(chan bool),
	}
}

// Start begins the periodic cleanup process
func (sr *StateRetainer) Start(ctx context.Context) {
	// Run retention check every 6 hours
	ticker := time.NewTicker(6 * time.Hour)

	go func() {
		sr.cleanup(time.Now())

		for {
			select {
			case <-ticker.C:
				sr.cleanup(time.Now())
			case <-sr.done:
				ticker.Stop()
				return
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()

	log.Info().
		Dur("retention", sr.retention).
		Str("checkInterval", "6h").
		Msg("State retention manager started")
}

// Stop terminates the cleanup process
func (sr *StateRetainer) Stop() {
	select {
	case sr.done <- true:
	default:
	}
	log.Info().Msg("State retention manager stopped")
}

// cleanup drops records older than the retention period
func (sr *StateRetainer) cleanup(now time.Time) {
	cutoff := now.Add(-sr.retention)
	acks, threads := sr.stateManager.Prune(cutoff)

	log.Info().
		Int("acknowledgments", acks).
		Int("threads", threads).
		Time("cutoff", cutoff).
		Msg("State cleanup completed")
}
