package discord

import (
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	kit "bongobot/internal/transport"
)

func TestToMessage(t *testing.T) {
	t.Parallel()
	ix := &discordgo.Interaction{
		ID:        "i1",
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   "g1",
		ChannelID: "c1",
		Member: &discordgo.Member{
			User:        &discordgo.User{ID: "u1", Username: "ada"},
			Permissions: discordgo.PermissionManageGuild,
		},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "AddBirthday",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "name", Type: discordgo.ApplicationCommandOptionString, Value: "Ada Lovelace"},
				{Name: "month", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(12)},
				{Name: "channel", Type: discordgo.ApplicationCommandOptionChannel, Value: "987"},
			},
		},
	}
	m := toMessage(ix)
	if m.Command != "addbirthday" || m.TenantID != "g1" || m.ChatID != "c1" || m.FromID != "u1" || !m.IsGroup {
		t.Fatalf("toMessage = %+v", m)
	}
	if !m.CanManage {
		t.Fatal("ManageGuild member should be able to manage")
	}
	want := map[string]string{"name": "Ada Lovelace", "month": "12", "channel": "987"}
	for k, v := range want {
		if m.Options[k] != v {
			t.Fatalf("Options[%q] = %q, want %q", k, m.Options[k], v)
		}
	}
	if m.Native != ix {
		t.Fatal("Native should carry the interaction")
	}
}

func TestToMessageDM(t *testing.T) {
	t.Parallel()
	ix := &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		ChannelID: "dm1",
		User:      &discordgo.User{ID: "u2"},
		Data:      discordgo.ApplicationCommandInteractionData{Name: "bongotime"},
	}
	m := toMessage(ix)
	if m.TenantID != "dm1" || m.IsGroup || m.FromID != "u2" || m.CanManage {
		t.Fatalf("toMessage(DM) = %+v", m)
	}
}

func TestToApplicationCommand(t *testing.T) {
	t.Parallel()
	ac := toApplicationCommand(kit.CommandSpec{
		Name:        "setbirthdaychannel",
		Description: "Choose where birthdays are announced",
		ManageOnly:  true,
		Params: []kit.CommandParam{
			{Name: "note", Kind: kit.ParamText},
			{Name: "channel", Kind: kit.ParamChannel, Required: true},
			{Name: "month", Kind: kit.ParamInt, Required: true, Min: 1, Max: 12},
		},
	})
	if ac.DefaultMemberPermissions == nil || *ac.DefaultMemberPermissions != discordgo.PermissionManageGuild {
		t.Fatalf("DefaultMemberPermissions = %v", ac.DefaultMemberPermissions)
	}
	var names []string
	for _, o := range ac.Options {
		names = append(names, o.Name)
	}
	if got := strings.Join(names, ","); got != "channel,month,note" {
		t.Fatalf("option order = %s, want required first", got)
	}
	month := ac.Options[1]
	if month.Type != discordgo.ApplicationCommandOptionInteger || month.MinValue == nil || *month.MinValue != 1 || month.MaxValue != 12 {
		t.Fatalf("month option = %+v", month)
	}
	if ac.Options[0].Type != discordgo.ApplicationCommandOptionChannel || ac.Options[2].Type != discordgo.ApplicationCommandOptionString {
		t.Fatalf("option types = %v, %v", ac.Options[0].Type, ac.Options[2].Type)
	}
	if toApplicationCommand(kit.CommandSpec{Name: "x"}).DefaultMemberPermissions != nil {
		t.Fatal("public command should not restrict permissions")
	}
}

func TestSplitContent(t *testing.T) {
	t.Parallel()
	if got := splitContent("", 10); len(got) != 1 || got[0] != "" {
		t.Fatalf("splitContent(empty) = %q", got)
	}
	s := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitContent(s, 10)
	if len(got) != 2 || got[0] != strings.Repeat("a", 8) || got[1] != strings.Repeat("b", 8) {
		t.Fatalf("splitContent = %q", got)
	}
	got = splitContent(strings.Repeat("x", 25), 10)
	if len(got) != 3 || len(got[2]) != 5 {
		t.Fatalf("splitContent(no newline) = %q", got)
	}
}
