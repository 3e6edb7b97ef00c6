// Package menu builds role-specific navigation menus. Build is pure: the same
// role and location always produce an identical Node.
package menu

import (
	"strings"

	"github.com/m3rciful/portalbot/core/action"
	"github.com/m3rciful/portalbot/core/portal"
)

// Location names a menu screen.
type Location string

const (
	Main             Location = "main"
	Analytics        Location = "analytics"
	AnalyticsTickets Location = "analytics-tickets"
	AnalyticsTeam    Location = "analytics-team"
	TicketsList      Location = "tickets-list"
	MyTickets        Location = "my-tickets"
	TasksList        Location = "tasks-list"
	MyTasks          Location = "my-tasks"
	MyStats          Location = "my-stats"
	QuickActions     Location = "quick-actions"
	Export           Location = "export"
	Comments         Location = "comments"
	Settings         Location = "settings"
	LinkHelp         Location = "link-help"
)

// Button is a labelled action token.
type Button struct {
	Label  string
	Action string
}

// Node is a rendered screen: body text plus an ordered grid of buttons.
type Node struct {
	Location Location
	Text     string
	Rows     [][]Button
}

// Buttons returns the total number of buttons in n.
func (n Node) Buttons() int {
	c := 0
	for _, r := range n.Rows {
		c += len(r)
	}
	return c
}

// Row is a convenience constructor for a button row.
func Row(buttons ...Button) []Button { return buttons }

// Btn is a convenience constructor for a Button.
func Btn(label, token string) Button { return Button{Label: label, Action: token} }

func nav(label string, loc Location) Button {
	return Btn(label, action.Nav(string(loc)))
}

func start(label, kind string) Button {
	return Btn(label, action.StartWizard(kind))
}

var (
	btnCreateTicket   = start("➕ Create ticket", action.KindCreateTicket)
	btnCreateTask     = start("➕ Create task", action.KindCreateTask)
	btnReport         = start("✍️ Send report", action.KindReportProgress)
	btnAnalytics      = nav("📊 Analytics", Analytics)
	btnTickets        = nav("📋 Tickets", TicketsList)
	btnTasks          = nav("✅ Tasks", TasksList)
	btnTeam           = nav("👥 Team", AnalyticsTeam)
	btnQuickActions   = nav("⚡ Quick actions", QuickActions)
	btnExport         = nav("📁 Export reports", Export)
	btnSettings       = nav("⚙️ Settings", Settings)
	btnMyTasks        = nav("✅ My tasks", MyTasks)
	btnMyTickets      = nav("📋 My tickets", MyTickets)
	btnMyStats        = nav("📊 My stats", MyStats)
	btnComments       = nav("💬 Comments", Comments)
	btnLinkAccount    = nav("🔗 Link account", LinkHelp)
	btnTicketAnalysis = nav("📊 Ticket analytics", AnalyticsTickets)
	btnBrowseTickets  = Btn("🔎 Open tickets", action.TicketList())
	btnOpenTasks      = Btn("📝 Open tasks", action.TaskList())
)

// mainMenus is the role → ordered entries table for the main screen.
var mainMenus = map[portal.Role][][]Button{
	portal.RoleDirector: {
		Row(btnCreateTask, btnCreateTicket),
		Row(btnAnalytics),
		Row(btnTickets, btnTasks),
		Row(btnTeam),
		Row(btnQuickActions),
		Row(btnExport),
		Row(btnSettings),
	},
	portal.RoleManager: {
		Row(btnCreateTicket, btnCreateTask),
		Row(btnMyTasks, btnMyTickets),
		Row(btnMyStats, btnReport),
		Row(btnQuickActions),
		Row(btnComments),
	},
	portal.RoleArtist: {
		Row(btnCreateTicket),
		Row(btnMyTickets),
		Row(btnMyStats),
		Row(btnReport),
		Row(btnQuickActions),
	},
	portal.RoleUnlinked: {
		Row(btnLinkAccount),
	},
}

var mainTitles = map[portal.Role]string{
	portal.RoleDirector: "👑 <b>Main menu</b> (director)\n\nChoose an action:",
	portal.RoleManager:  "🎯 <b>Main menu</b> (manager)\n\nChoose an action:",
	portal.RoleArtist:   "🎤 <b>Main menu</b> (artist)\n\nChoose an action:",
	portal.RoleUnlinked: "👋 Welcome to the portal bot!\n\nLink your portal account to get started:\n/link your_username",
}

// page is one non-main screen. Rows exclude the back button, which Build appends.
type page struct {
	text   string
	rows   [][]Button
	parent Location
}

// pages holds per-role screens; a location missing for a role falls back to main.
var pages = map[portal.Role]map[Location]page{
	portal.RoleDirector: {
		Analytics:        {text: "📊 <b>Analytics</b>\n\nPick a report:", rows: [][]Button{Row(btnTicketAnalysis), Row(btnTeam)}},
		AnalyticsTickets: {text: "📊 <b>Ticket analytics</b>\n\nCharts and breakdowns live in the portal dashboard.", parent: Analytics},
		AnalyticsTeam:    {text: "👥 <b>Team analytics</b>\n\nWorkload per manager is shown in the portal dashboard.", parent: Analytics},
		TicketsList:      {text: "📋 <b>Tickets</b>\n\nAssign an open ticket or create a new one:", rows: [][]Button{Row(btnBrowseTickets), Row(btnCreateTicket)}},
		TasksList:        {text: "✅ <b>Tasks</b>\n\nReview open tasks or create one for an open ticket:", rows: [][]Button{Row(btnOpenTasks), Row(btnCreateTask)}},
		QuickActions:     {text: quickActionsText(portal.RoleDirector), rows: [][]Button{Row(btnAnalytics), Row(btnTickets)}},
		Export:           {text: "📁 <b>Export reports</b>\n\nExports are generated in the portal."},
		Settings:         {text: "⚙️ <b>Settings</b>\n\nDeadline reminders are sent to assignees and directors."},
	},
	portal.RoleManager: {
		MyTasks:      {text: "✅ <b>My tasks</b>\n\nComplete a task or report progress on a ticket you work on:", rows: [][]Button{Row(btnOpenTasks), Row(btnReport)}},
		MyTickets:    {text: "📋 <b>My tickets</b>\n\nTickets assigned to you or created by you:", rows: [][]Button{Row(btnBrowseTickets), Row(btnCreateTicket), Row(btnReport)}},
		MyStats:      {text: "📊 <b>My stats</b>\n\nPersonal statistics are shown in the portal."},
		QuickActions: {text: quickActionsText(portal.RoleManager), rows: [][]Button{Row(btnMyTickets), Row(btnMyStats)}},
		Comments:     {text: "💬 <b>Comments</b>\n\nUse a progress report to comment on a ticket:", rows: [][]Button{Row(btnReport)}},
	},
	portal.RoleArtist: {
		MyTickets:    {text: "📋 <b>My tickets</b>\n\nTickets you created:", rows: [][]Button{Row(btnBrowseTickets), Row(btnCreateTicket), Row(btnReport)}},
		MyStats:      {text: "📊 <b>My stats</b>\n\nPersonal statistics are shown in the portal."},
		QuickActions: {text: quickActionsText(portal.RoleArtist)},
	},
	portal.RoleUnlinked: {
		LinkHelp: {text: "🔗 <b>Link account</b>\n\nSend <code>/link your_username</code> with the username you use in the portal."},
	},
}

func quickActionsText(role portal.Role) string {
	var b strings.Builder
	b.WriteString("⚡ <b>Quick actions</b>\n\n")
	b.WriteString("• /menu - main menu\n")
	b.WriteString("• /cancel - cancel the current form\n")
	switch role {
	case portal.RoleDirector:
		b.WriteString("• /newtask - create a task\n")
		b.WriteString("• /newticket - create a ticket\n")
	case portal.RoleManager:
		b.WriteString("• /newticket - create a ticket\n")
		b.WriteString("• /newtask - create a task\n")
		b.WriteString("• /report - report progress\n")
	case portal.RoleArtist:
		b.WriteString("• /newticket - create a ticket\n")
		b.WriteString("• /report - report progress\n")
	}
	b.WriteString("• /help - this list")
	return b.String()
}

// HelpText returns the command overview for role.
func HelpText(role portal.Role) string {
	if role == portal.RoleUnlinked || role == "" {
		return mainTitles[portal.RoleUnlinked]
	}
	return quickActionsText(role)
}

// ParseLocation maps s to a known location.
func ParseLocation(s string) (Location, bool) {
	loc := Location(strings.TrimSpace(s))
	switch loc {
	case Main, Analytics, AnalyticsTickets, AnalyticsTeam, TicketsList, MyTickets, TasksList,
		MyTasks, MyStats, QuickActions, Export, Comments, Settings, LinkHelp:
		return loc, true
	}
	return Main, false
}

// Build renders location for role. Unknown locations and locations the role
// has no entry for render the role's main menu.
func Build(role portal.Role, location Location) Node {
	if _, ok := mainMenus[role]; !ok {
		role = portal.RoleUnlinked
	}
	if location != Main {
		if p, ok := pages[role][location]; ok {
			return buildPage(location, p)
		}
	}
	return Node{
		Location: Main,
		Text:     mainTitles[role],
		Rows:     copyRows(mainMenus[role]),
	}
}

func buildPage(loc Location, p page) Node {
	parent := p.parent
	if parent == "" {
		parent = Main
	}
	rows := copyRows(p.rows)
	rows = append(rows, Row(BackButton(parent)))
	return Node{Location: loc, Text: p.text, Rows: rows}
}

// BackButton returns the navigation button to parent.
func BackButton(parent Location) Button {
	if parent == Main {
		return nav("🔙 Main menu", Main)
	}
	return nav("🔙 Back", parent)
}

func copyRows(rows [][]Button) [][]Button {
	out := make([][]Button, 0, len(rows)+1)
	for _, r := range rows {
		out = append(out, append([]Button(nil), r...))
	}
	return out
}
