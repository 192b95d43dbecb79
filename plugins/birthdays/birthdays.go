package birthdays

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"bongobot/internal/birthday"
	"bongobot/internal/plugin"
	"bongobot/internal/router"
	kit "bongobot/internal/transport"
	logx "bongobot/pkg/logx"
)

const defaultPoll = "1m"

const (
	invalidDateText  = "❌ That date doesn't exist. Check the month and day."
	saveFailedText   = "⚠️ Could not save that right now. Please try again later."
	channelHelpText  = "⚠️ The channel must be a numeric chat id."
	announcedNowText = "🎉 It's today, so I announced it."
)

// Plugin exposes the birthday registry and runs the daily scan.
type Plugin struct {
	plugin.Base
	svc *birthday.Service
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "birthdays" }

func (p *Plugin) Init(_ context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	if deps.Birthdays == nil {
		return errors.New("birthday service not available")
	}
	p.svc = deps.Birthdays
	return nil
}

// Start scans once on boot and then on the configured poll schedule.
func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	poll := strings.TrimSpace(p.Deps.BirthdayPoll)
	if poll == "" {
		poll = defaultPoll
	}
	if _, err := p.Schedule("scan", poll, p.Deps.ScanTimeout, p.scan); err != nil {
		return fmt.Errorf("schedule scan: %w", err)
	}
	p.Runner.Go0("boot_scan", func(c context.Context) {
		if err := p.scan(c); err != nil && c.Err() == nil {
			p.Log.Warn("boot scan failed", logx.Err(err))
		}
	})
	p.Log.Info("birthday scan scheduled", logx.String("poll", poll))
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func (p *Plugin) scan(ctx context.Context) error {
	if t := p.Deps.ScanTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	return p.svc.ScanAll(ctx)
}

func (p *Plugin) Commands() []router.Command {
	channel := kit.CommandParam{
		Name:        "channel",
		Description: "Channel for birthday announcements",
		Kind:        kit.ParamChannel,
		Required:    true,
	}
	if p.Deps.Platform == kit.PlatformTelegram {
		// defaults to the chat the command is sent from
		channel.Required = false
		channel.Description = "Chat id for announcements (default: this chat)"
	}
	return []router.Command{
		{
			Name:        "addbirthday",
			Description: "Add a birthday",
			Params: []kit.CommandParam{
				{Name: "name", Description: "Whose birthday", Kind: kit.ParamText, Required: true},
				{Name: "month", Description: "Month (1-12)", Kind: kit.ParamInt, Required: true, Min: 1, Max: 12},
				{Name: "day", Description: "Day (1-31)", Kind: kit.ParamInt, Required: true, Min: 1, Max: 31},
			},
			Private: true,
			Handle:  p.handleAdd,
		},
		{
			Name:        "listbirthdays",
			Description: "List saved birthdays",
			Handle:      p.handleList,
		},
		{
			Name:        "setbirthdaychannel",
			Description: "Choose where birthdays are announced",
			Params:      []kit.CommandParam{channel},
			Access:      router.AccessManage,
			Handle:      p.handleSetChannel,
		},
	}
}

func (p *Plugin) handleAdd(ctx context.Context, req *router.Request) error {
	month, _ := req.Int("month")
	day, _ := req.Int("day")
	res, err := p.svc.Add(ctx, req.TenantID, req.String("name"), month, day, req.FromID)
	switch {
	case errors.Is(err, birthday.ErrInvalidDate):
		return req.Reply(ctx, invalidDateText)
	case err != nil:
		_ = req.Reply(ctx, saveFailedText)
		return err
	}
	text := fmt.Sprintf("✅ Saved **%s** (%s).", res.Record.Name, birthday.ShortDate(res.Record.Month, res.Record.Day))
	if res.AnnouncedNow {
		text += "\n" + announcedNowText
	}
	return req.Reply(ctx, text)
}

func (p *Plugin) handleList(ctx context.Context, req *router.Request) error {
	rs, err := p.svc.List(ctx, req.TenantID)
	if err != nil {
		_ = req.Reply(ctx, saveFailedText)
		return err
	}
	if len(rs) == 0 {
		return req.Reply(ctx, birthday.EmptyListText)
	}
	return req.Reply(ctx, birthday.FormatList(rs))
}

func (p *Plugin) handleSetChannel(ctx context.Context, req *router.Request) error {
	ch := strings.TrimSpace(req.String("channel"))
	platform := p.Deps.Platform
	if platform == kit.PlatformTelegram {
		if ch == "" && req.Msg != nil {
			ch = req.Msg.ChatID
		}
		if _, err := strconv.ParseInt(ch, 10, 64); err != nil {
			return req.Reply(ctx, channelHelpText)
		}
	}
	err := p.svc.SetAnnouncementChannel(ctx, req.TenantID, ch, req.CanManage)
	switch {
	case errors.Is(err, birthday.ErrPermissionDenied):
		return req.Reply(ctx, deniedText(platform))
	case err != nil:
		_ = req.Reply(ctx, saveFailedText)
		return err
	}
	p.PublishEvent("birthday.channel_set", map[string]any{"tenant": req.TenantID, "channel": ch, "by": req.FromID})
	return req.Reply(ctx, "📣 Birthday announcements will be posted in "+kit.ChannelMention(platform, ch)+".")
}

func deniedText(p kit.Platform) string {
	if p == kit.PlatformTelegram {
		return "🚫 Only chat admins can set the birthday channel."
	}
	return "🚫 You need the Manage Server permission to set the birthday channel."
}
