package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/m3rciful/portalbot/core/portal"
	"github.com/m3rciful/portalbot/core/portal/memory"
)

// Seeder loads reference data into the in-memory repository.
type Seeder interface {
	Seed(ctx context.Context, repo *memory.Repository) error
}

// SeederFunc adapts a bare function to the Seeder interface.
type SeederFunc func(ctx context.Context, repo *memory.Repository) error

// Seed executes the underlying function.
func (f SeederFunc) Seed(ctx context.Context, repo *memory.Repository) error {
	return f(ctx, repo)
}

// Fixtures is the YAML layout accepted by FixtureSeeder.
type Fixtures struct {
	Users []struct {
		ID       int64  `yaml:"id"`
		Username string `yaml:"username"`
		FullName string `yaml:"full_name"`
		Role     string `yaml:"role"`
		ChatID   int64  `yaml:"chat_id"`
	} `yaml:"users"`
	Tickets []struct {
		ID          int64     `yaml:"id"`
		Title       string    `yaml:"title"`
		Description string    `yaml:"description"`
		Priority    string    `yaml:"priority"`
		Status      string    `yaml:"status"`
		Deadline    time.Time `yaml:"deadline"`
		CreatedBy   int64     `yaml:"created_by"`
		AssignedTo  int64     `yaml:"assigned_to"`
	} `yaml:"tickets"`
	Tasks []struct {
		ID         int64     `yaml:"id"`
		TicketID   int64     `yaml:"ticket_id"`
		Title      string    `yaml:"title"`
		Priority   string    `yaml:"priority"`
		Status     string    `yaml:"status"`
		Deadline   time.Time `yaml:"deadline"`
		CreatedBy  int64     `yaml:"created_by"`
		AssignedTo int64     `yaml:"assigned_to"`
	} `yaml:"tasks"`
}

// FixtureSeeder loads users, tickets and tasks from a YAML file.
func FixtureSeeder(path string) Seeder {
	return SeederFunc(func(_ context.Context, repo *memory.Repository) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read fixtures: %w", err)
		}
		var fx Fixtures
		if err := yaml.Unmarshal(data, &fx); err != nil {
			return fmt.Errorf("parse fixtures %s: %w", path, err)
		}
		return fx.Apply(repo)
	})
}

// Apply stores the fixtures. Users need an id, a username and a known role.
func (fx Fixtures) Apply(repo *memory.Repository) error {
	for i, u := range fx.Users {
		role := portal.ParseRole(u.Role)
		if u.ID == 0 || u.Username == "" || role == portal.RoleUnlinked {
			return fmt.Errorf("fixture user #%d: id, username and role (director, manager, artist) are required", i+1)
		}
		repo.AddUser(portal.UserRef{ID: u.ID, Username: u.Username, FullName: u.FullName, Role: role, ChatID: u.ChatID})
	}
	for i, t := range fx.Tickets {
		if t.ID == 0 || t.Title == "" {
			return fmt.Errorf("fixture ticket #%d: id and title are required", i+1)
		}
		repo.AddTicket(memory.Ticket{
			ID:          t.ID,
			Title:       t.Title,
			Description: t.Description,
			Priority:    t.Priority,
			Status:      t.Status,
			Deadline:    t.Deadline,
			CreatedBy:   t.CreatedBy,
			AssignedTo:  t.AssignedTo,
		})
	}
	for i, t := range fx.Tasks {
		if t.ID == 0 || t.Title == "" {
			return fmt.Errorf("fixture task #%d: id and title are required", i+1)
		}
		repo.AddTask(memory.Task{
			ID:         t.ID,
			TicketID:   t.TicketID,
			Title:      t.Title,
			Priority:   t.Priority,
			Status:     t.Status,
			Deadline:   t.Deadline,
			CreatedBy:  t.CreatedBy,
			AssignedTo: t.AssignedTo,
		})
	}
	return nil
}
