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

// ReportProgress posts a progress note on one of the actor's tickets.
func ReportProgress() wizard.Kind {
	return wizard.Kind{
		Name:  action.KindReportProgress,
		Title: "Progress report",
		Roles: []portal.Role{portal.RoleManager, portal.RoleArtist},
		Steps: []wizard.Step{
			{
				Field:   FieldTicket,
				Caption: "Ticket",
				Prompt:  "Which ticket are you reporting on?",
				Mode:    wizard.Choice,
				Source:  portal.CandidateMyTickets,
			},
			{
				Field:    FieldBody,
				Caption:  "Report",
				Prompt:   "What was done? Send the report text.",
				Mode:     wizard.FreeText,
				Validate: lengthBetween(FieldBody, 1, maxText),
			},
		},
		Finalize: func(collected []session.Field, actor wizard.Actor) (portal.Draft, notify.Event) {
			m := collectedMap(collected)
			draft := portal.Draft{
				Kind:      portal.EntityReport,
				CreatedBy: actor.UserID,
				Fields: map[string]string{
					FieldTicket: m[FieldTicket].Value,
					FieldBody:   m[FieldBody].Value,
				},
			}
			ev := notify.Event{
				Kind: notify.ReportSubmitted,
				Fields: map[string]string{
					notify.FieldTicket: m[FieldTicket].Label,
					notify.FieldAuthor: actor.Name,
					notify.FieldBody:   m[FieldBody].Value,
				},
				RoleRecipients: []portal.Role{portal.RoleDirector},
			}
			return draft, ev
		},
		Done: func(id int64, collected []session.Field) string {
			m := collectedMap(collected)
			return fmt.Sprintf("✅ Report <b>#%d</b> sent for %s", id, format.EscapeHTML(m[FieldTicket].Label))
		},
	}
}
