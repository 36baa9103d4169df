// cmd/hookbot/permissions.go
package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/bwmarrin/discordgo"
)

// permissionBits maps the permission names used in failures and settings
// to Discord permission flags.
var permissionBits = map[string]int64{
	"administrator":        discordgo.PermissionAdministrator,
	"view_channel":         discordgo.PermissionViewChannel,
	"send_messages":        discordgo.PermissionSendMessages,
	"embed_links":          discordgo.PermissionEmbedLinks,
	"attach_files":         discordgo.PermissionAttachFiles,
	"read_message_history": discordgo.PermissionReadMessageHistory,
	"add_reactions":        discordgo.PermissionAddReactions,
	"use_external_emojis":  discordgo.PermissionUseExternalEmojis,
	"manage_messages":      discordgo.PermissionManageMessages,
	"manage_webhooks":      discordgo.PermissionManageWebhooks,
	"manage_roles":         discordgo.PermissionManageRoles,
	"manage_channels":      discordgo.PermissionManageChannels,
	"manage_guild":         discordgo.PermissionManageServer,
}

// KnownPermission reports whether name is a permission this bot can check
func KnownPermission(name string) bool {
	_, ok := permissionBits[name]
	return ok
}

// KnownPermissions lists every checkable permission name, sorted
func KnownPermissions() []string {
	names := make([]string, 0, len(permissionBits))
	for n := range permissionBits {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// missingFrom returns the names whose bits are absent from granted, in the
// order they were requested. Administrator grants everything.
func missingFrom(granted int64, names []string) []string {
	if granted&discordgo.PermissionAdministrator != 0 {
		return nil
	}
	var missing []string
	for _, n := range names {
		bit, ok := permissionBits[n]
		if !ok || granted&bit != bit {
			missing = append(missing, n)
		}
	}
	return missing
}

// statePermissions resolves channel permissions from the session state
type statePermissions struct {
	session *discordgo.Session
}

func (p *statePermissions) BotID() string {
	if p.session.State == nil || p.session.State.User == nil {
		return ""
	}
	return p.session.State.User.ID
}

func (p *statePermissions) Missing(ctx context.Context, userID, channelID string, names []string) ([]string, error) {
	granted, err := p.session.State.UserChannelPermissions(userID, channelID)
	if err != nil {
		return nil, fmt.Errorf("permissions for %s in %s: %w", userID, channelID, err)
	}
	return missingFrom(granted, names), nil
}

// botPermissionCheck is the global check: in guilds the bot must hold
// every baseline permission in the invoking channel. Its failure is
// reported by the router as an opaque placeholder, and the dispatch hook
// calls it again to learn which permissions are missing.
func botPermissionCheck(perms PermissionChecker, baseline func() []string) func(ctx context.Context, inv *Invocation) error {
	return func(ctx context.Context, inv *Invocation) error {
		if inv.GuildID == "" || perms == nil {
			return nil
		}
		names := baseline()
		if len(names) == 0 {
			return nil
		}
		missing, err := perms.Missing(ctx, perms.BotID(), inv.ChannelID, names)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return MissingPerms(KindBotMissingPermissions, missing)
		}
		return nil
	}
}

// AuditLog records an admin action locally and, when configured, in the
// audit channel.
func AuditLog(ctx context.Context, out Messenger, channelID, action, userID, details string) {
	Log().Info("Audit: %s by %s: %s", action, userID, details)
	if channelID == "" || out == nil {
		return
	}

	// Format: 📝 **Action**: <@ID> - details
	msg := "📝 **" + action + "**: <@" + userID + "> - " + details
	if err := out.Send(ctx, channelID, Reply{Plain: msg}); err != nil {
		Log().Warning("Failed to log audit message: %v", err)
	}
}
