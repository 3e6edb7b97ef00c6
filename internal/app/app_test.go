package app

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/m3rciful/portalbot/core/bootstrap"
	coreconfig "github.com/m3rciful/portalbot/core/config"
	"github.com/m3rciful/portalbot/core/portal"
	"github.com/m3rciful/portalbot/core/portal/memory"
	coretelegram "github.com/m3rciful/portalbot/core/telegram"

	tele "gopkg.in/telebot.v4"
)

type fakeAPI struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeAPI) Send(_ tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, what.(string))
	return &tele.Message{ID: len(f.texts)}, nil
}

func (f *fakeAPI) Edit(tele.Editable, interface{}, ...interface{}) (*tele.Message, error) {
	return &tele.Message{}, nil
}

func (f *fakeAPI) Respond(*tele.Callback, ...*tele.CallbackResponse) error { return nil }

func newApp(t *testing.T) *App {
	t.Helper()
	cfg := &coreconfig.Config{
		Telegram: coreconfig.TelegramConfig{Token: "t"},
		Database: coreconfig.DatabaseConfig{Driver: coreconfig.DriverMemory},
	}
	if err := coreconfig.Normalize(cfg); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	seed := bootstrap.SeederFunc(func(_ context.Context, repo *memory.Repository) error {
		repo.AddUser(portal.UserRef{ID: 1, Username: "dina", FullName: "Dina", Role: portal.RoleDirector})
		return nil
	})
	a, err := New(context.Background(), cfg, bootstrap.Options{
		LoggerInit: func(*coreconfig.Config) error { return nil },
		Seeders:    []bootstrap.Seeder{seed},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestRunOptionsFromConfig(t *testing.T) {
	a := newApp(t)
	opts, err := a.TelegramRunOptions()
	if err != nil {
		t.Fatalf("run options: %v", err)
	}
	if opts.Wire == nil || opts.OnStart == nil {
		t.Fatal("wire and start hooks are required")
	}
	if opts.SenderOptions.Workers != a.cfg.Sender.Workers {
		t.Fatalf("sender workers = %d", opts.SenderOptions.Workers)
	}
}

func TestWireLinksAccountEndToEnd(t *testing.T) {
	a := newApp(t)
	api := &fakeAPI{}
	rt := coretelegram.Runtime{Gateway: coretelegram.NewGateway(api, nil)}

	routes, commands, err := a.wire(context.Background(), rt)
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	if len(commands) == 0 {
		t.Fatal("no commands published")
	}
	if a.sweeper == nil {
		t.Fatal("sweep should be enabled by default")
	}

	var onText tele.HandlerFunc
	for _, r := range routes {
		if r.Endpoint == tele.OnText {
			onText = r.Handler
		}
	}
	if onText == nil {
		t.Fatal("no text route")
	}

	bot, err := tele.NewBot(tele.Settings{Offline: true})
	if err != nil {
		t.Fatalf("offline bot: %v", err)
	}
	c := bot.NewContext(tele.Update{ID: 1, Message: &tele.Message{
		Sender: &tele.User{ID: 77},
		Chat:   &tele.Chat{ID: 900},
		Text:   "/link dina",
	}})
	if err := onText(c); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(api.texts) == 0 || !strings.Contains(api.texts[0], "Linked as") {
		t.Fatalf("replies = %v", api.texts)
	}
}
