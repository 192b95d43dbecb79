package classes

import (
	"context"
	"fmt"
	"time"

	"bongobot/internal/plugin"
	"bongobot/internal/router"
	"bongobot/internal/timetable"
	logx "bongobot/pkg/logx"
)

const (
	bongoText   = "🥁 BONGOTIME!"
	noClassText = "No classes are scheduled."
)

// Plugin answers timetable questions.
type Plugin struct {
	plugin.Base
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "classes" }

func (p *Plugin) Init(_ context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	p.Log.Debug("timetable loaded", logx.Int("intervals", len(p.Deps.Timetable)), logx.String("tz", p.tzName()))
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func (p *Plugin) Commands() []router.Command {
	return []router.Command{
		{
			Name:        "bongotime",
			Description: "Replies with BONGOTIME!",
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.Reply(ctx, bongoText)
			},
		},
		{
			Name:        "nextclass",
			Description: "How long until the next class (or time left if already in one)",
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.Reply(ctx, p.nextClass())
			},
		},
	}
}

func (p *Plugin) location() *time.Location {
	if p.Deps.Location != nil {
		return p.Deps.Location
	}
	return time.UTC
}

func (p *Plugin) tzName() string {
	if p.Deps.TZName != "" {
		return p.Deps.TZName
	}
	return p.location().String()
}

func (p *Plugin) nextClass() string {
	return NextClassText(p.Now().In(p.location()), p.Deps.Timetable, p.tzName())
}

// NextClassText renders the nextclass reply for now. A class in progress wins
// over the next upcoming start.
func NextClassText(now time.Time, table timetable.Table, tz string) string {
	if cur, ok := timetable.ActiveAt(now, table); ok {
		return fmt.Sprintf("📚 You’re **in class right now**: **%s**\n🕒 %s → %s (%s)\n⏳ **Time remaining:** %s",
			cur.Interval.Name,
			cur.Start.Format(timetable.LayoutTime),
			cur.End.Format(timetable.LayoutDayTime),
			tz,
			timetable.Humanize(cur.End.Sub(now)),
		)
	}
	next, ok := timetable.NextOccurrence(now, table)
	if !ok {
		return noClassText
	}
	return fmt.Sprintf("🎓 **Next class:** **%s**\n🗓️ **Starts:** %s (%s)\n⏳ **In:** %s",
		next.Interval.Name,
		next.Start.Format(timetable.LayoutDayTime),
		tz,
		timetable.Humanize(next.Start.Sub(now)),
	)
}
