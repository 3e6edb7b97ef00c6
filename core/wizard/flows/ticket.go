package flows

import (
	"fmt"

	"github.com/m3rciful/portalbot/core/action"
	"github.com/m3rciful/portalbot/core/format"
	"github.com/m3rciful/portalbot/core/notify"
	"github.com/m3rciful/portalbot/core/portal"
	"github.com/m3rciful/portalbot/core/session"
	"github.com/m3rciful/portalbot/core/wizard"
)

// CreateTicket collects a new ticket. The director is always notified, and so
// is the assignee when one is picked.
func CreateTicket() wizard.Kind {
	return wizard.Kind{
		Name:  action.KindCreateTicket,
		Title: "New ticket",
		Roles: []portal.Role{portal.RoleArtist, portal.RoleManager, portal.RoleDirector},
		Steps: []wizard.Step{
			{
				Field:    FieldTitle,
				Caption:  "Title",
				Prompt:   "What is the ticket about? Send a short title.",
				Mode:     wizard.FreeText,
				Validate: lengthBetween(FieldTitle, 1, maxTitle),
			},
			{
				Field:    FieldDescription,
				Caption:  "Description",
				Prompt:   "Describe the problem or request.",
				Mode:     wizard.FreeText,
				Validate: lengthBetween(FieldDescription, 1, maxText),
			},
			{
				Field:   FieldPriority,
				Caption: "Priority",
				Prompt:  "Choose the priority.",
				Mode:    wizard.Choice,
				Options: priorityOptions,
			},
			{
				Field:    FieldDeadline,
				Caption:  "Deadline",
				Prompt:   "When is it due? Pick an option or type a date (2026-10-21 or 21.10.2026).",
				Mode:     wizard.ChoiceOrText,
				Options:  deadlineOptions,
				Resolve:  resolveDeadline,
				Validate: validateDeadline,
			},
			{
				Field:     FieldAssignee,
				Caption:   "Assignee",
				Prompt:    "Who should handle it?",
				Mode:      wizard.Choice,
				Source:    portal.CandidateManagers,
				SkipLabel: "⏭ Skip (assign later)",
			},
		},
		Finalize: finalizeTicket,
		Done: func(id int64, collected []session.Field) string {
			m := collectedMap(collected)
			return fmt.Sprintf("✅ Ticket <b>#%d</b> created: %s", id, format.EscapeHTML(m[FieldTitle].Value))
		},
	}
}

func finalizeTicket(collected []session.Field, actor wizard.Actor) (portal.Draft, notify.Event) {
	m := collectedMap(collected)
	fields := map[string]string{
		FieldTitle:       m[FieldTitle].Value,
		FieldDescription: m[FieldDescription].Value,
		FieldPriority:    m[FieldPriority].Value,
		FieldDeadline:    m[FieldDeadline].Value,
	}
	ev := notify.Event{
		Kind: notify.TicketCreated,
		Fields: map[string]string{
			notify.FieldTitle:    m[FieldTitle].Value,
			notify.FieldPriority: label(m[FieldPriority]),
			notify.FieldDeadline: label(m[FieldDeadline]),
			notify.FieldAssignee: label(m[FieldAssignee]),
			notify.FieldAuthor:   actor.Name,
		},
		RoleRecipients: []portal.Role{portal.RoleDirector},
	}
	if id, ok := userID(m[FieldAssignee]); ok {
		fields[FieldAssignee] = m[FieldAssignee].Value
		ev.ExplicitRecipients = []int64{id}
	}
	return portal.Draft{Kind: portal.EntityTicket, CreatedBy: actor.UserID, Fields: fields}, ev
}
