package router

import (
	"context"
	"strconv"
	"strings"
	"time"

	kit "bongobot/internal/transport"
	logx "bongobot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessManage resolves Request.CanManage before the handler runs. The
	// handler decides what to do without it.
	AccessManage
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Params      []kit.CommandParam
	Access      Access
	// Private replies are visible only to the invoker where the platform allows it.
	Private bool

	Plugin  string
	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

// Spec is the platform-facing description of c.
func (c Command) Spec() kit.CommandSpec {
	return kit.CommandSpec{
		Name:        c.Name,
		Description: c.Description,
		Params:      append([]kit.CommandParam(nil), c.Params...),
		ManageOnly:  c.Access == AccessManage,
	}
}

// Usage renders "/name <a> [b]" from the declared params.
func (c Command) Usage() string {
	var b strings.Builder
	b.WriteString("/" + c.Name)
	for _, p := range c.Params {
		label := p.Name
		if p.Kind == kit.ParamInt && p.Max > 0 {
			label += " " + strconv.Itoa(p.Min) + "-" + strconv.Itoa(p.Max)
		}
		if p.Required {
			b.WriteString(" <" + label + ">")
		} else {
			b.WriteString(" [" + label + "]")
		}
	}
	return b.String()
}

type Request struct {
	Msg     *kit.Message
	Command string
	Params  map[string]string

	TenantID string
	FromID   string
	ReqID    string
	Private  bool

	// CanManage is resolved only for AccessManage commands.
	CanManage bool

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply answers the invoking message using **bold** markup.
func (r *Request) Reply(ctx context.Context, text string) error {
	return r.Adapter.Reply(ctx, r.Msg, text, &kit.SendOptions{
		Markdown:       true,
		DisablePreview: true,
		Private:        r.Private,
	})
}

func (r *Request) String(name string) string { return r.Params[name] }

// Int returns a bound integer param. Binding has already checked the bounds.
func (r *Request) Int(name string) (int, bool) {
	v, ok := r.Params[name]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
