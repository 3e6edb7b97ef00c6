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

// CreateTask splits work off an open ticket.
func CreateTask() wizard.Kind {
	return wizard.Kind{
		Name:  action.KindCreateTask,
		Title: "New task",
		Roles: []portal.Role{portal.RoleDirector, portal.RoleManager},
		Steps: []wizard.Step{
			{
				Field:   FieldTicket,
				Caption: "Ticket",
				Prompt:  "Which ticket does the task belong to?",
				Mode:    wizard.Choice,
				Source:  portal.CandidateOpenTickets,
			},
			{
				Field:    FieldTitle,
				Caption:  "Title",
				Prompt:   "Send the task title.",
				Mode:     wizard.FreeText,
				Validate: lengthBetween(FieldTitle, 1, maxTitle),
			},
			{
				Field:     FieldDescription,
				Caption:   "Description",
				Prompt:    "Add details for the assignee.",
				Mode:      wizard.FreeText,
				Validate:  lengthBetween(FieldDescription, 1, maxText),
				SkipLabel: "⏭ Skip",
			},
			{
				Field:   FieldPriority,
				Caption: "Priority",
				Prompt:  "Choose the priority.",
				Mode:    wizard.Choice,
				Options: priorityOptions,
			},
			{
				Field:   FieldDeadline,
				Caption: "Deadline",
				Prompt:  "When is it due?",
				Mode:    wizard.Choice,
				Options: deadlineOptions,
				Resolve: resolveDeadline,
			},
			{
				Field:     FieldAssignee,
				Caption:   "Assignee",
				Prompt:    "Who should do it?",
				Mode:      wizard.Choice,
				Source:    portal.CandidateManagers,
				SkipLabel: "⏭ Skip (assign later)",
			},
		},
		Finalize: finalizeTask,
		Done: func(id int64, collected []session.Field) string {
			m := collectedMap(collected)
			return fmt.Sprintf("✅ Task <b>#%d</b> created for %s", id, format.EscapeHTML(m[FieldTicket].Label))
		},
	}
}

func finalizeTask(collected []session.Field, actor wizard.Actor) (portal.Draft, notify.Event) {
	m := collectedMap(collected)
	fields := map[string]string{
		FieldTicket:      m[FieldTicket].Value,
		FieldTitle:       m[FieldTitle].Value,
		FieldDescription: m[FieldDescription].Value,
		FieldPriority:    m[FieldPriority].Value,
		FieldDeadline:    m[FieldDeadline].Value,
	}
	ev := notify.Event{
		Kind: notify.TaskCreated,
		Fields: map[string]string{
			notify.FieldTitle:    m[FieldTitle].Value,
			notify.FieldTicket:   m[FieldTicket].Label,
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
	return portal.Draft{Kind: portal.EntityTask, CreatedBy: actor.UserID, Fields: fields}, ev
}
