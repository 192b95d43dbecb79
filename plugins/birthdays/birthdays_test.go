package birthdays

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"bongobot/internal/birthday"
	"bongobot/internal/plugin"
	"bongobot/internal/router"
	"bongobot/internal/task/scheduler"
	kit "bongobot/internal/transport"
	logx "bongobot/pkg/logx"
)

type memRepo struct {
	mu   sync.Mutex
	regs map[string]*birthday.Registry
}

func (m *memRepo) Get(_ context.Context, id string) (*birthday.Registry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[id].Clone(), nil
}

func (m *memRepo) Save(_ context.Context, id string, reg *birthday.Registry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[id] = reg.Clone()
	return nil
}

func (m *memRepo) Tenants(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id := range m.regs {
		out = append(out, id)
	}
	return out, nil
}

type announcement struct{ channel, text string }

type replyAdapter struct {
	mu      sync.Mutex
	replies []string
	private []bool
}

func (a *replyAdapter) Platform() kit.Platform { return kit.PlatformDiscord }
func (a *replyAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *replyAdapter) Stop(context.Context) error { return nil }
func (a *replyAdapter) SendText(context.Context, kit.ChatTarget, string, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}

func (a *replyAdapter) Reply(_ context.Context, _ *kit.Message, text string, opt *kit.SendOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = append(a.replies, text)
	a.private = append(a.private, opt != nil && opt.Private)
	return nil
}

func (a *replyAdapter) last() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.replies) == 0 {
		return "", false
	}
	n := len(a.replies) - 1
	return a.replies[n], a.private[n]
}

type fixture struct {
	p     *Plugin
	repo  *memRepo
	ad    *replyAdapter
	sent  chan announcement
	cmds  map[string]router.Command
	sched *scheduler.Service
}

// today is 2025-06-15 in UTC.
func newFixture(t *testing.T, platform kit.Platform, fallback string) *fixture {
	t.Helper()
	f := &fixture{
		repo: &memRepo{regs: map[string]*birthday.Registry{}},
		ad:   &replyAdapter{},
		sent: make(chan announcement, 8),
	}
	now := time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)
	ann := birthday.AnnouncerFunc(func(_ context.Context, ch, text string) error {
		f.sent <- announcement{ch, text}
		return nil
	})
	svc := birthday.NewService(f.repo, ann, logx.Nop(), birthday.Options{
		Location:        time.UTC,
		FallbackChannel: fallback,
		Now:             func() time.Time { return now },
	})
	f.sched = scheduler.New(scheduler.Config{Location: time.UTC}, logx.Nop(), nil)
	f.p = New()
	err := f.p.Init(context.Background(), plugin.Deps{
		Logger:      logx.Nop(),
		Platform:    platform,
		Scheduler:   f.sched,
		Birthdays:   svc,
		ScanTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Init() = %v", err)
	}
	f.cmds = map[string]router.Command{}
	for _, c := range f.p.Commands() {
		f.cmds[c.Name] = c
	}
	return f
}

func (f *fixture) run(t *testing.T, name string, params map[string]string, canManage bool) (string, bool) {
	t.Helper()
	c, ok := f.cmds[name]
	if !ok {
		t.Fatalf("command %q not registered", name)
	}
	req := &router.Request{
		Msg:       &kit.Message{ChatID: "-100200", TenantID: "g1"},
		Command:   name,
		Params:    params,
		TenantID:  "g1",
		FromID:    "u1",
		Private:   c.Private,
		CanManage: canManage,
		Adapter:   f.ad,
		Logger:    logx.Nop(),
	}
	if err := c.Handle(context.Background(), req); err != nil {
		t.Fatalf("%s: Handle() = %v", name, err)
	}
	text, private := f.ad.last()
	return text, private
}

func TestAddAndList(t *testing.T) {
	t.Parallel()
	f := newFixture(t, kit.PlatformDiscord, "")

	got, private := f.run(t, "listbirthdays", nil, false)
	if got != birthday.EmptyListText || private {
		t.Fatalf("listbirthdays (empty) = %q private=%v", got, private)
	}

	got, private = f.run(t, "addbirthday", map[string]string{"name": "Ada Lovelace", "month": "12", "day": "10"}, false)
	if got != "✅ Saved **Ada Lovelace** (Dec 10)." || !private {
		t.Fatalf("addbirthday = %q private=%v", got, private)
	}
	f.run(t, "addbirthday", map[string]string{"name": "Grace", "month": "2", "day": "29"}, false)

	got, _ = f.run(t, "listbirthdays", nil, false)
	want := "🎂 **Birthdays**\n• Feb 29: Grace\n• Dec 10: Ada Lovelace"
	if got != want {
		t.Fatalf("listbirthdays = %q, want %q", got, want)
	}
}

func TestAddInvalidDate(t *testing.T) {
	t.Parallel()
	f := newFixture(t, kit.PlatformDiscord, "")
	for _, md := range [][2]string{{"2", "30"}, {"4", "31"}} {
		got, _ := f.run(t, "addbirthday", map[string]string{"name": "X", "month": md[0], "day": md[1]}, false)
		if got != invalidDateText {
			t.Fatalf("addbirthday %s/%s = %q, want %q", md[0], md[1], got, invalidDateText)
		}
	}
	if rs, _ := f.p.svc.List(context.Background(), "g1"); len(rs) != 0 {
		t.Fatalf("List() = %v, want empty", rs)
	}
}

func TestAddTodayAnnounces(t *testing.T) {
	t.Parallel()
	f := newFixture(t, kit.PlatformDiscord, "fallback")
	got, _ := f.run(t, "addbirthday", map[string]string{"name": "Ada", "month": "6", "day": "15"}, false)
	if !strings.HasSuffix(got, announcedNowText) {
		t.Fatalf("addbirthday today = %q", got)
	}
	select {
	case a := <-f.sent:
		if a.channel != "fallback" || !strings.Contains(a.text, "**Ada**") {
			t.Fatalf("announcement = %+v", a)
		}
	default:
		t.Fatal("no announcement sent")
	}
}

func TestSetChannelRequiresManage(t *testing.T) {
	t.Parallel()
	f := newFixture(t, kit.PlatformDiscord, "")

	got, private := f.run(t, "setbirthdaychannel", map[string]string{"channel": "555"}, false)
	if got != deniedText(kit.PlatformDiscord) || private {
		t.Fatalf("setbirthdaychannel (denied) = %q private=%v", got, private)
	}
	if ch, _ := f.p.svc.Channel(context.Background(), "g1"); ch != "" {
		t.Fatalf("Channel() = %q after denied set, want empty", ch)
	}

	got, _ = f.run(t, "setbirthdaychannel", map[string]string{"channel": "555"}, true)
	if got != "📣 Birthday announcements will be posted in <#555>." {
		t.Fatalf("setbirthdaychannel = %q", got)
	}
	if ch, _ := f.p.svc.Channel(context.Background(), "g1"); ch != "555" {
		t.Fatalf("Channel() = %q, want 555", ch)
	}
}

func TestSetChannelTelegramDefaultsToChat(t *testing.T) {
	t.Parallel()
	f := newFixture(t, kit.PlatformTelegram, "")
	if f.cmds["setbirthdaychannel"].Params[0].Required {
		t.Fatal("telegram channel param should be optional")
	}

	got, _ := f.run(t, "setbirthdaychannel", map[string]string{}, true)
	if got != "📣 Birthday announcements will be posted in chat -100200." {
		t.Fatalf("setbirthdaychannel = %q", got)
	}
	got, _ = f.run(t, "setbirthdaychannel", map[string]string{"channel": "general"}, true)
	if got != channelHelpText {
		t.Fatalf("setbirthdaychannel(general) = %q, want %q", got, channelHelpText)
	}
}

func TestStartSchedulesAndScansOnBoot(t *testing.T) {
	t.Parallel()
	f := newFixture(t, kit.PlatformDiscord, "")
	reg := &birthday.Registry{ChannelID: "c9"}
	r, err := birthday.NewRecord("Ada", 6, 15, "u1")
	if err != nil {
		t.Fatalf("NewRecord() = %v", err)
	}
	reg.Entries = append(reg.Entries, r)
	f.repo.regs["g1"] = reg

	ctx := context.Background()
	if err := f.p.Start(ctx); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	defer func() { _ = f.p.Stop(ctx) }()

	snap := f.sched.Snapshot()
	if len(snap) != 1 || snap[0].Name != "birthdays:scan" || snap[0].Spec != "@every 1m0s" {
		t.Fatalf("Snapshot() = %+v", snap)
	}
	select {
	case a := <-f.sent:
		if a.channel != "c9" {
			t.Fatalf("announcement channel = %q, want c9", a.channel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("boot scan did not announce")
	}
}
