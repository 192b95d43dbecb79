package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	kit "bongobot/internal/transport"
	logx "bongobot/pkg/logx"
)

// messageLimit is Discord's content cap per message.
const messageLimit = 2000

// manageBits grant the tenant manage capability.
const manageBits = discordgo.PermissionManageGuild | discordgo.PermissionAdministrator

type Config struct {
	Token string
	// GuildID scopes command registration; empty registers global commands.
	GuildID string
}

type Adapter struct {
	cfg Config
	log logx.Logger
	s   *discordgo.Session

	out atomic.Value // stores (chan<- kit.Update)

	runMu   sync.Mutex
	running bool

	readyOnce sync.Once
	ready     chan struct{}
	appID     atomic.Value // string

	droppedUpdates atomic.Uint64
}

var (
	_ kit.Adapter          = (*Adapter)(nil)
	_ kit.CommandRegistrar = (*Adapter)(nil)
)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	// Slash commands arrive as interactions; no privileged intents needed.
	s.Identify.Intents = discordgo.IntentsGuilds
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, s: s, ready: make(chan struct{})}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.appID.Store("")
	s.AddHandler(a.onReady)
	s.AddHandler(a.onInteraction)
	return a, nil
}

func (a *Adapter) Platform() kit.Platform { return kit.PlatformDiscord }

func (a *Adapter) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	id := ""
	if r.Application != nil {
		id = r.Application.ID
	}
	if id == "" && r.User != nil {
		id = r.User.ID
	}
	a.appID.Store(id)
	user := ""
	if r.User != nil {
		user = r.User.Username
	}
	a.log.Info("gateway ready", logx.String("bot", user), logx.Int("guilds", len(r.Guilds)))
	a.readyOnce.Do(func() { close(a.ready) })
}

func (a *Adapter) onInteraction(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
	if ic.Interaction == nil || ic.Type != discordgo.InteractionApplicationCommand {
		return
	}
	a.sendUpdate(kit.Update{Kind: kit.UpdateCommand, Message: toMessage(ic.Interaction)})
}

// toMessage flattens a slash command interaction. Option values become
// strings; channel options carry the channel ID.
func toMessage(ix *discordgo.Interaction) *kit.Message {
	data := ix.ApplicationCommandData()
	msg := &kit.Message{
		ID:       ix.ID,
		Platform: kit.PlatformDiscord,
		TenantID: ix.GuildID,
		ChatID:   ix.ChannelID,
		IsGroup:  ix.GuildID != "",
		Command:  strings.ToLower(data.Name),
		Options:  make(map[string]string, len(data.Options)),
		Native:   ix,
	}
	if msg.TenantID == "" {
		// DMs have no guild; the DM channel stands in as the tenant.
		msg.TenantID = ix.ChannelID
	}
	switch {
	case ix.Member != nil:
		msg.CanManage = ix.Member.Permissions&manageBits != 0
		if ix.Member.User != nil {
			msg.FromID = ix.Member.User.ID
			msg.FromUsername = ix.Member.User.Username
		}
	case ix.User != nil:
		msg.FromID = ix.User.ID
		msg.FromUsername = ix.User.Username
	}
	for _, o := range data.Options {
		msg.Options[o.Name] = optionString(o)
	}
	return msg
}

func optionString(o *discordgo.ApplicationCommandInteractionDataOption) string {
	switch o.Type {
	case discordgo.ApplicationCommandOptionInteger:
		return strconv.FormatInt(o.IntValue(), 10)
	case discordgo.ApplicationCommandOptionString:
		return o.StringValue()
	default:
		// channel, user and role options hold a snowflake string
		return fmt.Sprint(o.Value)
	}
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		if n := a.droppedUpdates.Add(1); n == 1 || n%50 == 0 {
			a.log.Warn("incoming interactions dropped (channel full)", logx.Uint64("count", n))
		}
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	a.out.Store(out)
	if err := a.s.Open(); err != nil {
		var nilOut chan<- kit.Update
		a.out.Store(nilOut)
		return fmt.Errorf("discord open: %w", err)
	}
	a.running = true
	a.log.Info("gateway connected")
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	if !a.running {
		return nil
	}
	a.running = false

	done := make(chan error, 1)
	go func() { done <- a.s.Close() }()
	select {
	case err := <-done:
		a.log.Info("gateway closed", logx.Uint64("dropped_updates", a.droppedUpdates.Load()))
		return err
	case <-ctx.Done():
		a.log.Warn("discord close timed out")
		return nil
	}
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	if strings.TrimSpace(to.ChatID) == "" {
		return kit.MessageRef{}, errors.New("discord send: empty channel id")
	}
	var first kit.MessageRef
	for i, chunk := range splitContent(text, messageLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		m, err := a.s.ChannelMessageSendComplex(to.ChatID, &discordgo.MessageSend{
			Content: chunk,
			// Names in announcements must never ping anyone.
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		}, discordgo.WithContext(ctx))
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: m.ID}
		}
	}
	return first, nil
}

// Reply answers a slash command interaction. Private replies are ephemeral.
// Messages without an interaction fall back to a channel send.
func (a *Adapter) Reply(ctx context.Context, to *kit.Message, text string, opt *kit.SendOptions) error {
	if to == nil {
		return errors.New("discord reply: nil message")
	}
	ix, ok := to.Native.(*discordgo.Interaction)
	if !ok || ix == nil {
		_, err := a.SendText(ctx, kit.ChatTarget{ChatID: to.ChatID}, text, opt)
		return err
	}
	var flags discordgo.MessageFlags
	if opt != nil && opt.Private {
		flags = discordgo.MessageFlagsEphemeral
	}
	chunks := splitContent(text, messageLimit)
	err := a.s.InteractionRespond(ix, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:         chunks[0],
			Flags:           flags,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	for _, c := range chunks[1:] {
		if _, err := a.s.FollowupMessageCreate(ix, true, &discordgo.WebhookParams{
			Content:         c,
			Flags:           flags,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		}, discordgo.WithContext(ctx)); err != nil {
			return err
		}
	}
	return nil
}

// RegisterCommands overwrites the application's commands for the configured
// guild (instant) or globally when no guild is set. It waits for the gateway
// Ready event to learn the application ID.
func (a *Adapter) RegisterCommands(ctx context.Context, cmds []kit.CommandSpec) error {
	select {
	case <-a.ready:
	case <-ctx.Done():
		return fmt.Errorf("discord register commands: %w", ctx.Err())
	}
	appID, _ := a.appID.Load().(string)
	if appID == "" {
		return errors.New("discord register commands: unknown application id")
	}
	out := make([]*discordgo.ApplicationCommand, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, toApplicationCommand(c))
	}
	created, err := a.s.ApplicationCommandBulkOverwrite(appID, a.cfg.GuildID, out, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord register commands: %w", err)
	}
	scope := a.cfg.GuildID
	if scope == "" {
		scope = "global"
	}
	a.log.Info("commands registered", logx.String("scope", scope), logx.Int("count", len(created)))
	return nil
}

func toApplicationCommand(c kit.CommandSpec) *discordgo.ApplicationCommand {
	desc := strings.TrimSpace(c.Description)
	if desc == "" {
		desc = c.Name
	}
	ac := &discordgo.ApplicationCommand{
		Type:        discordgo.ChatApplicationCommand,
		Name:        c.Name,
		Description: truncate(desc, 100),
	}
	if c.ManageOnly {
		perm := int64(discordgo.PermissionManageGuild)
		ac.DefaultMemberPermissions = &perm
	}
	// Discord requires required options before optional ones.
	var required, optional []*discordgo.ApplicationCommandOption
	for _, p := range c.Params {
		o := toOption(p)
		if o.Required {
			required = append(required, o)
		} else {
			optional = append(optional, o)
		}
	}
	ac.Options = append(required, optional...)
	return ac
}

func toOption(p kit.CommandParam) *discordgo.ApplicationCommandOption {
	desc := strings.TrimSpace(p.Description)
	if desc == "" {
		desc = p.Name
	}
	o := &discordgo.ApplicationCommandOption{
		Name:        p.Name,
		Description: truncate(desc, 100),
		Required:    p.Required,
	}
	switch p.Kind {
	case kit.ParamInt:
		o.Type = discordgo.ApplicationCommandOptionInteger
		if p.Max > p.Min {
			lo := float64(p.Min)
			o.MinValue = &lo
			o.MaxValue = float64(p.Max)
		}
	case kit.ParamChannel:
		o.Type = discordgo.ApplicationCommandOptionChannel
		o.ChannelTypes = []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews}
	default:
		o.Type = discordgo.ApplicationCommandOptionString
	}
	return o
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// splitContent cuts text into chunks of at most limit runes, preferring
// line breaks. It always returns at least one chunk.
func splitContent(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for len(rs) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if rs[i] == '\n' {
				cut = i + 1
				break
			}
		}
		out = append(out, strings.TrimRight(string(rs[:cut]), "\n"))
		rs = rs[cut:]
	}
	if len(rs) > 0 {
		out = append(out, string(rs))
	}
	return out
}
