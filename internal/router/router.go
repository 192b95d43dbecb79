package router

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bongobot/internal/runtime/supervisor"
	kit "bongobot/internal/transport"
	logx "bongobot/pkg/logx"
)

type Options struct {
	Owners []string
	// Workers is the handler pool size; <=0 means NumCPU (min 2).
	Workers int
	// Timeout applies to commands without their own.
	Timeout time.Duration
}

// Router maps command names to handlers and runs them on a bounded worker pool.
type Router struct {
	mu    sync.RWMutex
	cmds  map[string]*Command
	alias map[string]*Command
	order []string

	owners []string

	log     logx.Logger
	adapter kit.Adapter
	opt     Options

	runMu   sync.Mutex
	running bool
	jobs    chan func()
}

func New(log logx.Logger, adapter kit.Adapter, opt Options) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = max(runtime.NumCPU(), 2)
	}
	return &Router{
		cmds:    map[string]*Command{},
		alias:   map[string]*Command{},
		owners:  append([]string(nil), opt.Owners...),
		log:     log,
		adapter: adapter,
		opt:     opt,
		jobs:    make(chan func(), 256),
	}
}

// SetOwners replaces the user IDs that always hold the manage capability.
func (r *Router) SetOwners(owners []string) {
	cp := append([]string(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) ownersSnapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.owners...)
}

// SetCommands replaces the command table. A help command is always added.
// Later duplicates of a name are ignored.
func (r *Router) SetCommands(cmds []Command) {
	cmds = append(cmds, Command{
		Name:        "help",
		Description: "List the bot's commands",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText())
		},
	})

	table := map[string]*Command{}
	alias := map[string]*Command{}
	order := make([]string, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		if _, dup := table[name]; dup {
			r.log.Warn("duplicate command ignored", logx.String("cmd", name), logx.String("plugin", c.Plugin))
			continue
		}
		cc := c
		cc.Name = name
		table[name] = &cc
		order = append(order, name)
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a != "" && !strings.Contains(a, " ") {
				alias[a] = &cc
			}
		}
	}

	r.mu.Lock()
	r.cmds = table
	r.alias = alias
	r.order = order
	r.mu.Unlock()
}

// Lookup finds a command by name or alias.
func (r *Router) Lookup(name string) (Command, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.cmds[name]; ok {
		return *c, true
	}
	if c, ok := r.alias[name]; ok {
		return *c, true
	}
	return Command{}, false
}

// Specs lists the table in registration order for platform registration.
func (r *Router) Specs() []kit.CommandSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]kit.CommandSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.cmds[name].Spec())
	}
	return out
}

func (r *Router) sortedCommands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Router) setRunning(v bool) {
	r.runMu.Lock()
	r.running = v
	r.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	r.runMu.Lock()
	running := r.running
	r.runMu.Unlock()
	if !running {
		return false
	}
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
// Handlers run on a pool of workers kept alive by a supervisor.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log.With(logx.String("comp", "router"))),
		supervisor.WithCancelOnError(false),
	)
	r.setRunning(true)
	r.log.Info("command dispatcher started", logx.Int("workers", r.opt.Workers), logx.Int("job_queue_cap", cap(r.jobs)))

	for i := 0; i < r.opt.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					r.runJob(idx, job)
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		r.setRunning(false)
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

// Route resolves one update to a command and enqueues it.
func (r *Router) Route(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}

	var (
		name   string
		tokens []string
	)
	if up.Kind == kit.UpdateCommand {
		name = msg.Command
	} else {
		name, tokens = splitCommand(msg.Text)
		if name == "" {
			return
		}
	}

	cmd, ok := r.Lookup(name)
	if !ok {
		// Text platforms deliver every slash line; only answer in private chats
		// so other bots' commands in groups stay quiet.
		if up.Kind == kit.UpdateCommand || !msg.IsGroup {
			_ = r.adapter.Reply(ctx, msg, "Unknown command. Try /help.", nil)
		}
		return
	}

	var (
		params map[string]string
		err    error
	)
	if up.Kind == kit.UpdateCommand {
		params, err = bindOptions(cmd.Params, msg.Options)
	} else {
		params, err = bindTokens(cmd.Params, tokens)
	}
	if err != nil {
		_ = r.adapter.Reply(ctx, msg, usageText(cmd, err), &kit.SendOptions{Markdown: true, Private: true})
		return
	}

	rid := uuid.NewString()
	req := &Request{
		Msg:      msg,
		Command:  cmd.Name,
		Params:   params,
		TenantID: msg.TenantID,
		FromID:   msg.FromID,
		ReqID:    rid,
		Private:  cmd.Private,
		Adapter:  r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.String("tenant", msg.TenantID),
			logx.String("chat_id", msg.ChatID),
			logx.String("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.opt.Timeout
	}
	mws := []Middleware{MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(timeout)}
	if cmd.Access == AccessManage {
		checker, _ := r.adapter.(kit.PermissionChecker)
		mws = append(mws, MWResolveManage(r.ownersSnapshot, checker))
	}
	final := Chain(cmd.Handle, mws...)

	if !r.tryEnqueue(func() { _ = final(ctx, req) }) {
		_ = r.adapter.Reply(ctx, msg, "Busy, try again in a moment.", &kit.SendOptions{Private: true})
	}
}

func usageText(cmd Command, err error) string {
	var be *bindError
	reason := "invalid arguments"
	if errors.As(err, &be) {
		reason = be.reason
	}
	return "⚠️ " + reason + "\n**Usage:** " + cmd.Usage()
}
