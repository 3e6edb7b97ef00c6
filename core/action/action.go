// Package action defines the grammar of button action tokens.
//
// A token is "<namespace>:<payload>", where payload may contain further
// colon-separated parts. Tokens travel as Telegram callback data and must fit
// in MaxLen bytes.
package action

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxLen is the callback data limit imposed by Telegram.
const MaxLen = 64

// Namespace selects the handler family of a token.
type Namespace string

const (
	// NSNav navigates to a menu location: "nav:<location>".
	NSNav Namespace = "nav"
	// NSWizard drives the wizard engine: "wiz:start:<kind>", "wiz:pick:<step>:<value>",
	// "wiz:skip:<step>", "wiz:cancel".
	NSWizard Namespace = "wiz"
	// NSGuard answers the cancel-or-continue question: "guard:keep", "guard:drop:<deferred token>".
	NSGuard Namespace = "guard"
	// NSTicket acts on one ticket: "ticket:list", "ticket:show:<id>",
	// "ticket:assign:<id>", "ticket:assignto:<id>:<user id>".
	NSTicket Namespace = "ticket"
	// NSTask acts on one task: "task:list", "task:show:<id>", "task:done:<id>".
	NSTask Namespace = "task"
)

// Wizard verbs.
const (
	VerbStart  = "start"
	VerbPick   = "pick"
	VerbSkip   = "skip"
	VerbCancel = "cancel"
	VerbKeep   = "keep"
	VerbDrop   = "drop"

	VerbList     = "list"
	VerbShow     = "show"
	VerbAssign   = "assign"
	VerbAssignTo = "assignto"
	VerbDone     = "done"
)

// Well-known wizard kinds.
const (
	KindCreateTicket   = "create_ticket"
	KindCreateTask     = "create_task"
	KindReportProgress = "report_progress"
)

// Token is a parsed action token.
type Token struct {
	Namespace Namespace
	Payload   string
}

// String renders the token back to its wire form.
func (t Token) String() string {
	if t.Payload == "" {
		return string(t.Namespace)
	}
	return string(t.Namespace) + ":" + t.Payload
}

// Parts splits the payload on ':' into at most n parts; n <= 0 means no limit.
func (t Token) Parts(n int) []string {
	if t.Payload == "" {
		return nil
	}
	if n <= 0 {
		n = -1
	}
	return strings.SplitN(t.Payload, ":", n)
}

// Parse splits raw into namespace and payload. Unknown namespaces are returned
// as-is; callers route them to a fallback.
func Parse(raw string) (Token, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Token{}, fmt.Errorf("empty action token")
	}
	if len(raw) > MaxLen {
		return Token{}, fmt.Errorf("action token exceeds %d bytes", MaxLen)
	}
	ns, payload, _ := strings.Cut(raw, ":")
	return Token{Namespace: Namespace(ns), Payload: payload}, nil
}

func join(ns Namespace, parts ...string) string {
	if len(parts) == 0 {
		return string(ns)
	}
	return string(ns) + ":" + strings.Join(parts, ":")
}

// Nav returns the token that opens location.
func Nav(location string) string { return join(NSNav, location) }

// StartWizard returns the token that starts a wizard of kind.
func StartWizard(kind string) string { return join(NSWizard, VerbStart, kind) }

// Pick returns the token for choosing value at step. The step index lets the
// engine ignore buttons left over from an earlier step.
func Pick(step int, value string) string {
	return join(NSWizard, VerbPick, strconv.Itoa(step), value)
}

// Skip returns the token for skipping an optional step.
func Skip(step int) string { return join(NSWizard, VerbSkip, strconv.Itoa(step)) }

// CancelWizard returns the token that abandons the active wizard.
func CancelWizard() string { return join(NSWizard, VerbCancel) }

// Keep returns the token that resumes a wizard after the guard question.
func Keep() string { return join(NSGuard, VerbKeep) }

// Drop returns the token that discards the wizard and then performs deferred.
// When deferred would not fit, the guard falls back to the main menu.
func Drop(deferred string) string {
	tok := join(NSGuard, VerbDrop, deferred)
	if len(tok) > MaxLen {
		return join(NSGuard, VerbDrop, Nav("main"))
	}
	return tok
}

// TicketList returns the token that lists open tickets.
func TicketList() string { return join(NSTicket, VerbList) }

// ShowTicket returns the token that opens the ticket's detail screen.
func ShowTicket(id int64) string { return join(NSTicket, VerbShow, strconv.FormatInt(id, 10)) }

// AssignTicket returns the token that offers assignees for the ticket.
func AssignTicket(id int64) string { return join(NSTicket, VerbAssign, strconv.FormatInt(id, 10)) }

// AssignTo returns the token that assigns the ticket to userID.
func AssignTo(id, userID int64) string {
	return join(NSTicket, VerbAssignTo, strconv.FormatInt(id, 10), strconv.FormatInt(userID, 10))
}

// TaskList returns the token that lists unfinished tasks.
func TaskList() string { return join(NSTask, VerbList) }

// ShowTask returns the token that opens the task's detail screen.
func ShowTask(id int64) string { return join(NSTask, VerbShow, strconv.FormatInt(id, 10)) }

// CompleteTask returns the token that marks the task completed.
func CompleteTask(id int64) string { return join(NSTask, VerbDone, strconv.FormatInt(id, 10)) }

// ID parses the numeric part i of the payload.
func (t Token) ID(i int) (int64, bool) {
	parts := t.Parts(0)
	if i < 0 || i >= len(parts) {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[i], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Fits reports whether raw respects the callback data limit.
func Fits(raw string) bool { return len(raw) > 0 && len(raw) <= MaxLen }
