package menu

import (
	"reflect"
	"strings"
	"testing"

	"github.com/m3rciful/portalbot/core/action"
	"github.com/m3rciful/portalbot/core/portal"
)

var allRoles = []portal.Role{portal.RoleDirector, portal.RoleManager, portal.RoleArtist, portal.RoleUnlinked}

var allLocations = []Location{
	Main, Analytics, AnalyticsTickets, AnalyticsTeam, TicketsList, MyTickets, TasksList,
	MyTasks, MyStats, QuickActions, Export, Comments, Settings, LinkHelp,
}

func TestBuildIsDeterministic(t *testing.T) {
	for _, role := range allRoles {
		for _, loc := range allLocations {
			a := Build(role, loc)
			b := Build(role, loc)
			if !reflect.DeepEqual(a, b) {
				t.Fatalf("Build(%s, %s) not deterministic", role, loc)
			}
		}
	}
}

func TestBuildReturnsFreshRows(t *testing.T) {
	a := Build(portal.RoleDirector, Main)
	a.Rows[0][0].Label = "mutated"
	b := Build(portal.RoleDirector, Main)
	if b.Rows[0][0].Label == "mutated" {
		t.Fatal("Build shares button rows between calls")
	}
}

func TestUnknownLocationFallsBackToMain(t *testing.T) {
	got := Build(portal.RoleManager, Location("nowhere"))
	want := Build(portal.RoleManager, Main)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unknown location rendered %+v", got)
	}
	if loc, ok := ParseLocation("nowhere"); ok || loc != Main {
		t.Fatalf("ParseLocation(nowhere) = %s, %v", loc, ok)
	}
}

func TestLocationOutsideRoleFallsBackToMain(t *testing.T) {
	got := Build(portal.RoleArtist, Export)
	if got.Location != Main {
		t.Fatalf("artist export rendered %s", got.Location)
	}
}

func TestUnlinkedMainOffersOnlyLinkAccount(t *testing.T) {
	n := Build(portal.RoleUnlinked, Main)
	if n.Buttons() != 1 {
		t.Fatalf("unlinked menu has %d buttons", n.Buttons())
	}
	if n.Rows[0][0].Action != action.Nav(string(LinkHelp)) {
		t.Fatalf("unlinked button = %+v", n.Rows[0][0])
	}
	if !strings.Contains(n.Text, "/link") {
		t.Fatalf("unlinked text lacks link instructions: %q", n.Text)
	}
}

func TestRoleMainMenus(t *testing.T) {
	cases := []struct {
		role    portal.Role
		want    []string
		notWant []string
	}{
		{portal.RoleManager, []string{action.StartWizard(action.KindCreateTicket), action.Nav(string(MyTasks))}, []string{action.Nav(string(Export))}},
		{portal.RoleDirector, []string{action.StartWizard(action.KindCreateTask), action.Nav(string(Export))}, []string{action.Nav(string(MyStats))}},
		{portal.RoleArtist, []string{action.StartWizard(action.KindCreateTicket), action.StartWizard(action.KindReportProgress)}, []string{action.StartWizard(action.KindCreateTask)}},
	}
	for _, tc := range cases {
		t.Run(string(tc.role), func(t *testing.T) {
			tokens := map[string]bool{}
			for _, row := range Build(tc.role, Main).Rows {
				for _, b := range row {
					tokens[b.Action] = true
				}
			}
			for _, w := range tc.want {
				if !tokens[w] {
					t.Fatalf("%s main menu lacks %s", tc.role, w)
				}
			}
			for _, nw := range tc.notWant {
				if tokens[nw] {
					t.Fatalf("%s main menu unexpectedly offers %s", tc.role, nw)
				}
			}
		})
	}
}

func TestSubpagesHaveBackAndValidTokens(t *testing.T) {
	for _, role := range allRoles {
		for _, loc := range allLocations {
			n := Build(role, loc)
			for _, row := range n.Rows {
				for _, b := range row {
					if !action.Fits(b.Action) {
						t.Fatalf("%s/%s: token %q does not fit", role, loc, b.Action)
					}
					if b.Label == "" {
						t.Fatalf("%s/%s: empty label", role, loc)
					}
				}
			}
			if n.Location == Main {
				continue
			}
			last := n.Rows[len(n.Rows)-1]
			if len(last) != 1 || !strings.HasPrefix(last[0].Action, "nav:") || !strings.HasPrefix(last[0].Label, "🔙") {
				t.Fatalf("%s/%s: missing back button, last row %+v", role, loc, last)
			}
		}
	}
	if back := Build(portal.RoleDirector, AnalyticsTeam).Rows; back[len(back)-1][0].Action != action.Nav(string(Analytics)) {
		t.Fatalf("team analytics should go back to analytics, got %+v", back[len(back)-1])
	}
}
