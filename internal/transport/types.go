package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	UpdateCommand UpdateKind = "command"
)

// Platform names a chat platform. One process serves one platform.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformDiscord  Platform = "discord"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is an inbound text line or a structured slash command.
//
// Text-based platforms fill Text and leave Command empty; the router tokenizes
// it. Platforms with native commands fill Command and Options instead.
type Message struct {
	ID           string
	Platform     Platform
	TenantID     string // Discord guild, Telegram chat
	ChatID       string
	ThreadID     int
	FromID       string
	FromUsername string
	Text         string
	IsGroup      bool

	Command string
	Options map[string]string

	// CanManage is set by adapters that receive the requester's permissions
	// with the update itself.
	CanManage bool

	// Native is adapter-specific state needed to reply (Discord: *discordgo.Interaction).
	Native any
}

type ChatTarget struct {
	ChatID   string
	ThreadID int
}

type MessageRef struct {
	ChatID    string
	MessageID string
}

type SendOptions struct {
	// Markdown renders **bold** spans using the platform's own markup.
	Markdown       bool
	DisablePreview bool
	// Private asks for a reply only the invoker can see where the platform supports it.
	Private bool
}

type Adapter interface {
	Platform() Platform
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	Reply(ctx context.Context, to *Message, text string, opt *SendOptions) error
}

// PermissionChecker is implemented by adapters that must ask the platform
// whether a user may manage a tenant.
type PermissionChecker interface {
	CanManage(ctx context.Context, m *Message) (bool, error)
}

// ParamKind is the type of a declared command parameter.
type ParamKind int

const (
	ParamText ParamKind = iota
	ParamInt
	ParamChannel
)

// CommandParam declares one input of a command.
type CommandParam struct {
	Name        string
	Description string
	Kind        ParamKind
	Required    bool
	Min, Max    int
}

// CommandSpec is the platform-facing description of a command.
type CommandSpec struct {
	Name        string
	Description string
	Params      []CommandParam
	ManageOnly  bool
}

// CommandRegistrar is implemented by adapters that publish the command table
// to the platform (Telegram menu, Discord application commands).
type CommandRegistrar interface {
	RegisterCommands(ctx context.Context, cmds []CommandSpec) error
}

// ChannelMention renders a channel reference for display.
func ChannelMention(p Platform, channelID string) string {
	if channelID == "" {
		return ""
	}
	if p == PlatformDiscord {
		return "<#" + channelID + ">"
	}
	return "chat " + channelID
}
