package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "bongobot/internal/runtime/supervisor"
	kit "bongobot/internal/transport"
	logx "bongobot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop and the drop reporter; created on Start.
	sup *rtsup.Supervisor

	droppedUpdates atomic.Uint64
}

var (
	_ kit.Adapter           = (*Adapter)(nil)
	_ kit.PermissionChecker = (*Adapter)(nil)
	_ kit.CommandRegistrar  = (*Adapter)(nil)
)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.bot.Handle(tele.OnText, a.onText)
	return a, nil
}

func (a *Adapter) Platform() kit.Platform { return kit.PlatformTelegram }

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	msg := &kit.Message{
		ID:       strconv.Itoa(m.ID),
		Platform: kit.PlatformTelegram,
		TenantID: chatID,
		ChatID:   chatID,
		ThreadID: m.ThreadID,
		Text:     m.Text,
		IsGroup:  m.Chat.Type != tele.ChatPrivate,
	}
	if m.Sender != nil {
		msg.FromID = strconv.FormatInt(m.Sender.ID, 10)
		msg.FromUsername = m.Sender.Username
	}
	a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: msg})
	return nil
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	report := func() {
		if n := a.droppedUpdates.Swap(0); n > 0 {
			a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
		}
	}
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until bot.Stop; restart it if it returns early.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started", logx.String("bot", a.bot.Me.Username))
		a.bot.Start()
		a.log.Info("polling stopped")
		return c.Err()
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping")
	sup.Cancel()

	// Keep shutdown snappy even if a getUpdates long-poll is still waiting.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, context.DeadlineExceeded) {
			a.log.Warn("telegram stop timed out")
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram chat id %q: %w", s, err)
	}
	return id, nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	id, err := parseChatID(to.ChatID)
	if err != nil {
		return kit.MessageRef{}, err
	}
	chat := &tele.Chat{ID: id}

	var first kit.MessageRef
	for i, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		sendOpt := &tele.SendOptions{
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		}
		if opt.Markdown {
			chunk = renderHTML(chunk)
			sendOpt.ParseMode = tele.ModeHTML
		} else {
			chunk = stripBold(chunk)
		}
		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: strconv.Itoa(msg.ID)}
		}
	}
	return first, nil
}

// Reply answers in the originating chat. Private replies in groups go to the
// invoker's DM instead, falling back to the group when the bot cannot open a
// DM (the user never started it).
func (a *Adapter) Reply(ctx context.Context, to *kit.Message, text string, opt *kit.SendOptions) error {
	if to == nil {
		return errors.New("telegram reply: nil message")
	}
	if opt != nil && opt.Private && to.IsGroup && to.FromID != "" {
		_, err := a.SendText(ctx, kit.ChatTarget{ChatID: to.FromID}, text, opt)
		if err == nil {
			return nil
		}
		a.log.Debug("private reply failed; answering in chat", logx.String("user", to.FromID), logx.Err(err))
	}
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: to.ChatID, ThreadID: to.ThreadID}, text, opt)
	return err
}

// CanManage reports whether the sender administers the chat. Everyone
// manages their own private chat.
func (a *Adapter) CanManage(ctx context.Context, m *kit.Message) (bool, error) {
	if m == nil {
		return false, nil
	}
	if !m.IsGroup {
		return true, nil
	}
	chatID, err := parseChatID(m.ChatID)
	if err != nil {
		return false, err
	}
	userID, err := parseChatID(m.FromID)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	member, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return false, err
	}
	return member.Role == tele.Creator || member.Role == tele.Administrator, nil
}

// RegisterCommands publishes the command menu (setMyCommands).
func (a *Adapter) RegisterCommands(ctx context.Context, cmds []kit.CommandSpec) error {
	menu := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		d := strings.TrimSpace(c.Description)
		if len(d) < 3 {
			d = c.Name
		}
		if len(d) > 256 {
			d = d[:256]
		}
		menu = append(menu, tele.Command{Text: c.Name, Description: d})
		if len(menu) == 100 {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(menu); err != nil {
		return fmt.Errorf("telegram setMyCommands: %w", err)
	}
	a.log.Info("menu commands updated", logx.Int("count", len(menu)))
	return nil
}
