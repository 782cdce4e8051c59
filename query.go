package main

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

// ErrUsage is returned when a command's arguments cannot be understood
var ErrUsage = errors.New("usage")

// Slash commands handled by the query responder
const (
	CommandTotal      = "/total"
	CommandUserTotal  = "/user_total"
	CommandRangeTotal = "/range_total"
)

var usageText = map[string]string{
	CommandTotal:      "Usage: /total [YYYY-MM-DD]",
	CommandUserTotal:  "Usage: /user_total @user YYYY-MM-DD [YYYY-MM-DD]",
	CommandRangeTotal: "Usage: /range_total YYYY-MM-DD [YYYY-MM-DD]",
}

// <@U123|name>, <@U123> or a bare user ID
var userRefPattern = regexp.MustCompile(`^(?:<@([UW][A-Z0-9]+)(?:\|[^>]*)?>|([UW][A-Z0-9]+))$`)

// QueryResponse is the text to send back for a slash command
type QueryResponse struct {
	Text      string
	Ephemeral bool
}

// QueryResponder answers read-only total queries against the store
type QueryResponder struct {
	store     *Store
	formatter *MessageFormatter
	location  *time.Location
	now       func() time.Time
}

// NewQueryResponder creates a new query responder
func NewQueryResponder(store *Store, formatter *MessageFormatter, location *time.Location) *QueryResponder {
	return &QueryResponder{
		store:     store,
		formatter: formatter,
		location:  location,
		now:       time.Now,
	}
}

// Respond answers a slash command. Malformed arguments produce an
// ephemeral usage message instead of an error.
func (qr *QueryResponder) Respond(cmd slack.SlashCommand) QueryResponse {
	args := strings.Fields(cmd.Text)

	var text string
	var err error
	switch cmd.Command {
	case CommandTotal:
		text, err = qr.total(args)
	case CommandUserTotal:
		text, err = qr.userTotal(args)
	case CommandRangeTotal:
		text, err = qr.rangeTotal(args)
	default:
		return QueryResponse{Text: fmt.Sprintf("Unknown command: %s", cmd.Command), Ephemeral: true}
	}

	if err != nil {
		return QueryResponse{
			Text:      fmt.Sprintf("⚠️ %v\n%s", err, usageText[cmd.Command]),
			Ephemeral: true,
		}
	}
	return QueryResponse{Text: text}
}

// total answers "/total [date]"; the date defaults to today
func (qr *QueryResponder) total(args []string) (string, error) {
	if len(args) > 1 {
		return "", fmt.Errorf("%w: too many arguments", ErrUsage)
	}

	day := DayKeyFromTime(qr.now(), qr.location)
	if len(args) == 1 {
		parsed, err := ParseDayKey(args[0])
		if err != nil {
			return "", err
		}
		day = parsed
	}

	return qr.formatter.DayTotal(day, qr.store.DayTotal(day)), nil
}

// userTotal answers "/user_total @user start [end]"
func (qr *QueryResponder) userTotal(args []string) (string, error) {
	if len(args) < 2 || len(args) > 3 {
		return "", fmt.Errorf("%w: expected a user and one or two dates", ErrUsage)
	}

	userID, err := parseUserRef(args[0])
	if err != nil {
		return "", err
	}
	start, end, err := parseRange(args[1:])
	if err != nil {
		return "", err
	}

	total := qr.store.UserTotalOverRange(start, end, userID)
	return qr.formatter.UserTotal(userID, start, end, total), nil
}

// rangeTotal answers "/range_total start [end]"
func (qr *QueryResponder) rangeTotal(args []string) (string, error) {
	if len(args) < 1 || len(args) > 2 {
		return "", fmt.Errorf("%w: expected one or two dates", ErrUsage)
	}

	start, end, err := parseRange(args)
	if err != nil {
		return "", err
	}

	return qr.formatter.RangeTotal(start, end, qr.store.RangeTotal(start, end)), nil
}

// parseRange reads "start [end]"; a single date is a one-day range
func parseRange(args []string) (DayKey, DayKey, error) {
	start, err := ParseDayKey(args[0])
	if err != nil {
		return "", "", err
	}
	end := start
	if len(args) == 2 {
		end, err = ParseDayKey(args[1])
		if err != nil {
			return "", "", err
		}
	}
	if end < start {
		return "", "", fmt.Errorf("%w: end date %s is before start date %s", ErrUsage, end, start)
	}
	return start, end, nil
}

// parseUserRef extracts a user ID from a mention
func parseUserRef(s string) (string, error) {
	m := userRefPattern.FindStringSubmatch(s)
	if m == nil {
		return "", fmt.Errorf("%w: %q is not a user mention", ErrUsage, s)
	}
	if m[1] != "" {
		return m[1], nil
	}
	return m[2], nil
}
