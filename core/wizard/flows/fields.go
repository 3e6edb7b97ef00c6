// Package flows declares the wizard kinds offered by the bot: ticket
// creation, task creation and progress reports.
package flows

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/m3rciful/portalbot/core/errs"
	"github.com/m3rciful/portalbot/core/format"
	"github.com/m3rciful/portalbot/core/session"
	"github.com/m3rciful/portalbot/core/wizard"
)

// Stored field names shared with the repositories.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldPriority    = "priority"
	FieldDeadline    = "deadline"
	FieldAssignee    = "assignee_id"
	FieldTicket      = "ticket_id"
	FieldBody        = "body"
)

const (
	maxTitle = 200
	maxText  = 2000
)

var priorityOptions = []wizard.Option{
	{Value: "urgent", Label: "🔥 Urgent"},
	{Value: "high", Label: "⚠️ High"},
	{Value: "medium", Label: "📌 Medium"},
	{Value: "low", Label: "📋 Low"},
}

var deadlineOptions = []wizard.Option{
	{Value: "today", Label: "Today"},
	{Value: "tomorrow", Label: "Tomorrow"},
	{Value: "3days", Label: "In 3 days"},
	{Value: "week", Label: "In a week"},
}

var deadlineOffsets = map[string]int{"today": 0, "tomorrow": 1, "3days": 3, "week": 7}

// lengthBetween returns a validator accepting trimmed text of min..max runes.
func lengthBetween(field string, min, max int) func(string, time.Time) (wizard.Answer, error) {
	return func(raw string, _ time.Time) (wizard.Answer, error) {
		s := strings.TrimSpace(raw)
		n := utf8.RuneCountInString(s)
		switch {
		case n < min:
			return wizard.Answer{}, &errs.ValidationError{Field: field, Reason: "the answer cannot be empty"}
		case n > max:
			return wizard.Answer{}, &errs.ValidationError{Field: field, Reason: "the answer is too long, keep it under " + strconv.Itoa(max) + " characters"}
		}
		return wizard.Answer{Value: s, Label: s}, nil
	}
}

func resolveDeadline(opt wizard.Option, now time.Time) wizard.Answer {
	days := deadlineOffsets[opt.Value]
	t := format.EndOfDay(now.AddDate(0, 0, days))
	return wizard.Answer{Value: t.Format(time.RFC3339), Label: format.HumanDate(t)}
}

func validateDeadline(raw string, now time.Time) (wizard.Answer, error) {
	t, _, ok := format.ParseFlexibleDate(raw, now.Location())
	if !ok {
		return wizard.Answer{}, &errs.ValidationError{Field: FieldDeadline, Reason: "use a date like 2026-10-21 or 21.10.2026"}
	}
	if t.Before(now) {
		return wizard.Answer{}, &errs.ValidationError{Field: FieldDeadline, Reason: "the deadline is in the past"}
	}
	return wizard.Answer{Value: t.Format(time.RFC3339), Label: format.HumanDate(t)}, nil
}

// collectedMap indexes collected fields by name.
func collectedMap(collected []session.Field) map[string]session.Field {
	out := make(map[string]session.Field, len(collected))
	for _, f := range collected {
		out[f.Name] = f
	}
	return out
}

// label returns the display label of a field, empty for skipped fields.
func label(f session.Field) string {
	if f.Value == "" {
		return ""
	}
	return f.Label
}

func userID(f session.Field) (int64, bool) {
	id, err := strconv.ParseInt(f.Value, 10, 64)
	return id, err == nil && id > 0
}

// Register adds every kind to e.
func Register(e *wizard.Engine) error {
	for _, k := range []wizard.Kind{CreateTicket(), CreateTask(), ReportProgress()} {
		if err := e.Register(k); err != nil {
			return err
		}
	}
	return nil
}
