// cmd/hookbot/builtin.go
package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// GuildSettings is the read-write view of the guild store used by the
// config command.
type GuildSettings interface {
	Get(ctx context.Context, guildID, option string) (interface{}, error)
	Set(ctx context.Context, guildID, option string, value interface{}) error
}

// Builtins carries what the built-in commands need
type Builtins struct {
	Store       GuildSettings
	Messenger   Messenger
	Permissions PermissionChecker
	AuditChan   string
	StartTime   time.Time
	Latency     func() time.Duration

	router *Router
}

var metaCooldown = Cooldown{Rate: 3, Per: 8 * time.Second, Bucket: BucketChannel}

// RegisterBuiltins adds the bot's own commands to r
func RegisterBuiltins(r *Router, b *Builtins) error {
	b.router = r
	if b.Permissions == nil {
		b.Permissions = r.perms
	}

	cmds := []*Command{
		{
			Name:        "config",
			Description: "Manages server configuration for bot",
			Args: []ArgSpec{
				{Name: "option", Type: ArgString, Optional: true},
				{Name: "new value", Type: ArgString, Optional: true, Rest: true},
			},
			GuildOnly: true,
			Sensitive: true,
			Cooldown:  cooldownCopy(),
			Run:       b.config,
		},
		{
			Name:        "about",
			Description: "Gives information about this bot",
			Cooldown:    cooldownCopy(),
			Run:         b.about,
		},
		{
			Name:        "invite",
			Description: "Gives information about this bot",
			Cooldown:    cooldownCopy(),
			Run:         b.invite,
		},
		{
			Name:        "deletemydata",
			Description: "Gives information on how to delete your data",
			Cooldown:    cooldownCopy(),
			Run:         b.deleteMyData,
		},
		{
			Name:        "help",
			Description: "Shows the commands and how to use them",
			Args:        []ArgSpec{{Name: "command", Type: ArgString, Optional: true}},
			Cooldown:    cooldownCopy(),
			Run:         b.help,
		},
		{
			Name:        "ping",
			Description: "Checks if the bot is responding",
			Cooldown:    cooldownCopy(),
			Run:         b.ping,
		},
	}
	for _, c := range cmds {
		if err := r.Register(c); err != nil {
			return fmt.Errorf("register %s: %w", c.Name, err)
		}
	}
	return nil
}

func cooldownCopy() *Cooldown {
	cd := metaCooldown
	return &cd
}

func (b *Builtins) config(ctx context.Context, c *CommandContext) error {
	command := c.Prefix + c.Command.Name

	if !c.Args.Has("option") {
		return c.Send(ctx, configListing(command))
	}

	option := c.Args.String("option")
	configurable, ok := LookupConfigurable(strings.ToLower(option))
	if !ok {
		return NewFailure(KindUserInputError, fmt.Sprintf("Option %s not found", wrapInCode(option)))
	}

	var value interface{}
	setting := c.Args.Has("new value")
	if setting {
		if err := b.requireManageGuild(ctx, c.Invocation); err != nil {
			return err
		}
		parsed, err := configurable.Parse(c.Args.String("new value"))
		if err != nil {
			return err
		}
		if err := b.Store.Set(ctx, c.GuildID, configurable.Name, parsed); err != nil {
			return err
		}
		AuditLog(ctx, b.Messenger, b.AuditChan, "Config", c.AuthorID,
			fmt.Sprintf("set %s to %s in guild %s", configurable.Name, configurable.Format(parsed), c.GuildID))
		value = parsed
	} else {
		stored, err := b.Store.Get(ctx, c.GuildID, configurable.Name)
		if err != nil {
			return err
		}
		value = stored
	}

	shown := wrapInCode(configurable.Format(value))
	var message string
	if setting {
		message = fmt.Sprintf("Option %s has been set to %s.", configurable.Name, shown)
	} else {
		signature := wrapInCode(fmt.Sprintf("%s %s <new value>", command, configurable.Name))
		message = fmt.Sprintf("Option %s is currently set to %s.\nUse %s to set it.", configurable.Name, shown, signature)
	}
	return c.Send(ctx, Reply{Title: "Configuration", Description: message})
}

func (b *Builtins) requireManageGuild(ctx context.Context, inv *Invocation) error {
	if b.Permissions == nil {
		return nil
	}
	missing, err := b.Permissions.Missing(ctx, inv.AuthorID, inv.ChannelID, []string{"manage_guild"})
	if err != nil {
		return fmt.Errorf("check manage_guild of %s: %w", inv.AuthorID, err)
	}
	if len(missing) > 0 {
		return MissingPerms(KindMissingPermissions, missing)
	}
	return nil
}

// configListing describes the config command and every option
func configListing(command string) Reply {
	title := cases.Title(language.English)
	fields := make([]Field, 0, len(Configurables))
	for _, c := range Configurables {
		fields = append(fields, Field{Name: title.String(c.Name), Value: c.Description})
	}

	description := "Command to manage the bot's configuration for a server." +
		"\nTo get the value of an option use " + wrapInCode(command+" <option>") + "." +
		"\nTo set the value of an option use " + wrapInCode(command+" <option> <new value>") + "." +
		"\nList of options can be found below:"

	return Reply{
		Title:       "Configuration",
		Description: description,
		Fields:      fields,
		Footer:      fmt.Sprintf("Page 1/1, showing option 1..%d/%d", len(fields), len(fields)),
	}
}

func (b *Builtins) about(ctx context.Context, c *CommandContext) error {
	deleteData := wrapInCode(c.Prefix + "deletemydata")
	return c.Send(ctx, Reply{
		Title:       "About",
		Description: AppDescription,
		Fields: []Field{{
			Name: "Privacy and Security",
			Value: fmt.Sprintf("Want your data deleted? Use the %s command to get more info.", deleteData) +
				"\nHave a security issue? Join the support server and DM the maintainers.",
		}},
	})
}

func (b *Builtins) invite(ctx context.Context, c *CommandContext) error {
	return c.Send(ctx, Reply{Title: "Invite", Description: AppDescription + "\n" + AppWebsite})
}

func (b *Builtins) deleteMyData(ctx context.Context, c *CommandContext) error {
	return c.Send(ctx, Reply{
		Title: "Delete my data",
		Description: "As of now, this bot stores zero data specific to users." +
			"\nIf you are a server owner you can delete data specific to this server by kicking or banning me.",
	})
}

func (b *Builtins) help(ctx context.Context, c *CommandContext) error {
	if c.Args.Has("command") {
		name := c.Args.String("command")
		cmd, ok := b.router.Lookup(name)
		if !ok {
			return NewFailure(KindUserInputError, fmt.Sprintf("Command %s not found", wrapInCode(name)))
		}
		usage := strings.TrimSpace(c.Prefix + cmd.Name + " " + cmd.Signature())
		desc := cmd.Description + "\n" + wrapInCode(usage)
		if len(cmd.Aliases) > 0 {
			desc += "\nAliases: " + strings.Join(cmd.Aliases, ", ")
		}
		return c.Send(ctx, Reply{Title: "Help: " + cmd.Name, Description: desc})
	}

	var lines []string
	for _, cmd := range b.router.Commands() {
		if cmd.Disabled {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %s", wrapInCode(c.Prefix+cmd.Name), cmd.Description))
	}
	return c.Send(ctx, Reply{
		Title:       "Help",
		Description: strings.Join(lines, "\n"),
		Footer:      fmt.Sprintf("Use %shelp <command> for more info on a command.", c.Prefix),
	})
}

func (b *Builtins) ping(ctx context.Context, c *CommandContext) error {
	desc := "Pong!"
	if b.Latency != nil {
		desc = fmt.Sprintf("Pong! Gateway latency is %dms.", b.Latency().Milliseconds())
	}
	if !b.StartTime.IsZero() {
		desc += "\nUp for " + FormatDuration(time.Since(b.StartTime)) + "."
	}
	return c.Send(ctx, Reply{Title: "Ping", Description: desc})
}
