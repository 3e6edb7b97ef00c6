// Package wizard implements the generic multi-step form collector. Each kind
// of form is a declarative list of steps; the engine renders prompts,
// validates answers, and on the last step persists a draft and returns the
// domain event to fan out.
package wizard

import (
	"time"

	"github.com/m3rciful/portalbot/core/notify"
	"github.com/m3rciful/portalbot/core/portal"
	"github.com/m3rciful/portalbot/core/session"
)

// Mode selects how a step accepts input.
type Mode int

const (
	// FreeText accepts a typed message.
	FreeText Mode = iota
	// Choice accepts a button press; typed text must match a choice.
	Choice
	// ChoiceOrText accepts either a button press or typed text passed to Validate.
	ChoiceOrText
)

// Option is one selectable answer.
type Option struct {
	Value string
	Label string
}

// Answer is a validated step result.
type Answer struct {
	Value string
	Label string
}

// Actor is the user driving the wizard.
type Actor struct {
	UserID int64
	Role   portal.Role
	Name   string
}

// Step describes one field of a wizard.
type Step struct {
	Field   string
	Caption string
	Prompt  string
	Mode    Mode

	// Options is the static choice list.
	Options []Option
	// Source, when set, lists choices from the repository instead of Options.
	Source portal.CandidateKind

	// SkipLabel makes the step optional; skipping stores an empty value.
	SkipLabel string

	// Validate checks typed input for FreeText and ChoiceOrText steps.
	Validate func(raw string, now time.Time) (Answer, error)
	// Resolve maps a picked option to its stored answer; nil stores the option as-is.
	Resolve func(opt Option, now time.Time) Answer
}

func (s Step) dynamic() bool { return s.Source != "" }

// Finalizer turns the collected fields into a draft to persist and the event
// announcing it. The engine fills Event.EntityID once the draft is stored.
type Finalizer func(collected []session.Field, actor Actor) (portal.Draft, notify.Event)

// Kind is the declarative description of one wizard.
type Kind struct {
	Name     string
	Title    string
	Roles    []portal.Role
	Steps    []Step
	Finalize Finalizer
	// Done renders the success message for the stored entity id.
	Done func(id int64, collected []session.Field) string
}

func (k *Kind) allowed(role portal.Role) bool {
	for _, r := range k.Roles {
		if r == role {
			return true
		}
	}
	return false
}
