// cmd/hookbot/commands.go
package main

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Invocation is the origin of a command: who ran what, and where
type Invocation struct {
	MessageID   string
	ChannelID   string
	AuthorID    string
	GuildID     string
	GuildName   string
	Content     string
	Prefix      string
	InvokedWith string
	Command     *Command
}

// CommandName returns the resolved command name, falling back to what
// the user typed when no command matched.
func (inv *Invocation) CommandName() string {
	if inv.Command != nil {
		return inv.Command.Name
	}
	return inv.InvokedWith
}

// Context returns the named values attached to diagnostic reports
func (inv *Invocation) Context() map[string]interface{} {
	named := map[string]interface{}{
		"message": inv.Content,
		"command": inv.CommandName(),
		"author":  inv.AuthorID,
		"channel": inv.ChannelID,
	}
	if inv.GuildID != "" {
		named["guild"] = inv.GuildID
	}
	return named
}

// BucketType selects what a cooldown is keyed on
type BucketType int

const (
	BucketDefault BucketType = iota
	BucketUser
	BucketChannel
	BucketGuild
)

// Cooldown allows Rate uses per Per for each bucket
type Cooldown struct {
	Rate   int
	Per    time.Duration
	Bucket BucketType
}

// CommandContext is handed to a running command
type CommandContext struct {
	*Invocation
	Args *Args
	Out  Messenger
}

// Send replies in the invoking channel
func (c *CommandContext) Send(ctx context.Context, r Reply) error {
	return c.Out.Send(ctx, c.ChannelID, r)
}

// Command describes a prefix command and the checks guarding it
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Args        []ArgSpec

	GuildOnly bool
	DMOnly    bool
	OwnerOnly bool
	Disabled  bool
	// Sensitive failures are answered privately when the guild asks for it
	Sensitive bool

	UserPerms      []string
	BotPerms       []string
	Cooldown       *Cooldown
	MaxConcurrency int64
	Checks         []func(ctx context.Context, inv *Invocation) error

	Run func(ctx context.Context, c *CommandContext) error

	cooldowns *Cache
	running   *semaphore.Weighted
}

// Signature renders the argument list for help output
func (c *Command) Signature() string {
	parts := make([]string, 0, len(c.Args))
	for _, a := range c.Args {
		name := a.Name
		if a.Rest {
			name += "..."
		}
		if a.Optional {
			parts = append(parts, "["+name+"]")
		} else {
			parts = append(parts, "<"+name+">")
		}
	}
	return strings.Join(parts, " ")
}

// PermissionChecker reports which of the named permissions a user lacks
// in a channel.
type PermissionChecker interface {
	Missing(ctx context.Context, userID, channelID string, names []string) ([]string, error)
	BotID() string
}

// FailureHandler receives every error raised while dispatching
type FailureHandler interface {
	OnCommandError(ctx context.Context, inv *Invocation, err error) Outcome
}

// Router resolves prefixes, finds commands, runs their checks and hands
// any failure to the dispatch hook.
type Router struct {
	cmdIndex    map[string]*Command
	commands    []*Command
	prefixes    func(ctx context.Context, guildID string) (string, error)
	perms       PermissionChecker
	entities    Entities
	owners      func(ctx context.Context, userID string) bool
	globalCheck func(ctx context.Context, inv *Invocation) error
	failures    FailureHandler
	out         Messenger
	log         *Logger
}

// RouterOptions configures a Router
type RouterOptions struct {
	Prefixes    func(ctx context.Context, guildID string) (string, error)
	Permissions PermissionChecker
	Entities    Entities
	Owners      func(ctx context.Context, userID string) bool
	GlobalCheck func(ctx context.Context, inv *Invocation) error
	Failures    FailureHandler
	Messenger   Messenger
	Logger      *Logger
}

// NewRouter creates a router with no commands
func NewRouter(opts RouterOptions) *Router {
	r := &Router{
		cmdIndex:    make(map[string]*Command),
		prefixes:    opts.Prefixes,
		perms:       opts.Permissions,
		entities:    opts.Entities,
		owners:      opts.Owners,
		globalCheck: opts.GlobalCheck,
		failures:    opts.Failures,
		out:         opts.Messenger,
		log:         opts.Logger,
	}
	if r.log == nil {
		r.log = Log()
	}
	if r.prefixes == nil {
		r.prefixes = func(context.Context, string) (string, error) { return DefaultPrefix, nil }
	}
	return r
}

// Register adds a command under its name and aliases
func (r *Router) Register(cmd *Command) error {
	names := append([]string{cmd.Name}, cmd.Aliases...)
	for _, n := range names {
		if _, exists := r.cmdIndex[strings.ToLower(n)]; exists {
			return fmt.Errorf("command name %q already registered", n)
		}
	}
	if cmd.Cooldown != nil {
		if cmd.Cooldown.Rate <= 0 || cmd.Cooldown.Per <= 0 {
			return fmt.Errorf("command %s: invalid cooldown %d per %s", cmd.Name, cmd.Cooldown.Rate, cmd.Cooldown.Per)
		}
		cmd.cooldowns = NewCache(2*cmd.Cooldown.Per, 0)
	}
	if cmd.MaxConcurrency > 0 {
		cmd.running = semaphore.NewWeighted(cmd.MaxConcurrency)
	}
	for _, n := range names {
		r.cmdIndex[strings.ToLower(n)] = cmd
	}
	r.commands = append(r.commands, cmd)
	return nil
}

// Commands returns the registered commands sorted by name
func (r *Router) Commands() []*Command {
	out := append([]*Command(nil), r.commands...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup finds a command by name or alias
func (r *Router) Lookup(name string) (*Command, bool) {
	cmd, ok := r.cmdIndex[strings.ToLower(name)]
	return cmd, ok
}

// Close stops the background work owned by registered commands
func (r *Router) Close() {
	for _, cmd := range r.commands {
		if cmd.cooldowns != nil {
			cmd.cooldowns.Close()
		}
	}
}

// IncomingMessage is the transport-neutral form of a chat message
type IncomingMessage struct {
	ID        string
	ChannelID string
	GuildID   string
	GuildName string
	AuthorID  string
	AuthorBot bool
	Content   string
}

// Prefixes returns every accepted prefix for a guild, in match order
func (r *Router) Prefixes(ctx context.Context, guildID string) []string {
	prefix := DefaultPrefix
	if guildID != "" {
		p, err := r.prefixes(ctx, guildID)
		if err != nil {
			r.log.Warning("Failed to load prefix for guild %s, using default: %v", guildID, err)
		} else if p != "" {
			prefix = p
		}
	}

	var out []string
	if r.perms != nil && r.perms.BotID() != "" {
		id := r.perms.BotID()
		out = append(out, "<@!"+id+"> ", "<@"+id+"> ")
	}
	return append(out, prefix+" ", prefix)
}

// Handle dispatches one message. It returns true when the message was a
// command attempt.
func (r *Router) Handle(ctx context.Context, msg IncomingMessage) bool {
	if msg.AuthorBot {
		return false
	}

	if r.isBareMention(msg.Content) {
		r.sendPrefixHint(ctx, msg)
	}

	var used string
	for _, p := range r.Prefixes(ctx, msg.GuildID) {
		if strings.HasPrefix(msg.Content, p) {
			used = p
			break
		}
	}
	if used == "" {
		return false
	}

	body := strings.TrimPrefix(msg.Content, used)
	name, rest := splitCommandName(body)
	if name == "" {
		return false
	}

	inv := &Invocation{
		MessageID:   msg.ID,
		ChannelID:   msg.ChannelID,
		AuthorID:    msg.AuthorID,
		GuildID:     msg.GuildID,
		GuildName:   msg.GuildName,
		Content:     msg.Content,
		Prefix:      used,
		InvokedWith: name,
	}

	cmd, ok := r.Lookup(name)
	if !ok {
		r.fail(ctx, inv, NewFailure(KindCommandNotFound, fmt.Sprintf("Command %q is not found", name)))
		return true
	}
	inv.Command = cmd

	if err := r.invoke(ctx, inv, rest); err != nil {
		r.fail(ctx, inv, err)
	}
	return true
}

func (r *Router) fail(ctx context.Context, inv *Invocation, err error) {
	if r.failures == nil {
		r.log.Error("Command %s failed with no failure handler: %v", inv.CommandName(), err)
		return
	}
	r.failures.OnCommandError(ctx, inv, err)
}

// invoke runs the checks, cooldown, concurrency limit and argument
// conversion in order, then the command body.
func (r *Router) invoke(ctx context.Context, inv *Invocation, rawArgs string) error {
	cmd := inv.Command

	if cmd.Disabled {
		return NewFailure(KindDisabledCommand, cmd.Name+" command is disabled")
	}
	if err := r.runChecks(ctx, inv); err != nil {
		return err
	}
	if err := cmd.checkCooldown(inv, time.Now()); err != nil {
		return err
	}
	if cmd.running != nil {
		if !cmd.running.TryAcquire(1) {
			return NewFailure(KindMaxConcurrencyReached, fmt.Sprintf("Too many people are using this command. It can only be used %d times concurrently.", cmd.MaxConcurrency))
		}
		defer cmd.running.Release(1)
	}

	args, err := parseArgs(ctx, r.entities, inv, cmd.Args, rawArgs)
	if err != nil {
		return err
	}

	return r.run(ctx, &CommandContext{Invocation: inv, Args: args, Out: r.out})
}

// run calls the command body, wrapping its error or panic so the hook can
// tell command bugs apart from check failures.
func (r *Router) run(ctx context.Context, c *CommandContext) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = InvokeError(&panicError{value: p, stack: string(debug.Stack())})
		}
	}()
	if c.Command.Run == nil {
		return nil
	}
	if runErr := c.Command.Run(ctx, c); runErr != nil {
		if _, ok := AsFailure(runErr); ok {
			return runErr
		}
		return InvokeError(runErr)
	}
	return nil
}

func (r *Router) runChecks(ctx context.Context, inv *Invocation) error {
	cmd := inv.Command

	if r.globalCheck != nil {
		if err := r.globalCheck(ctx, inv); err != nil {
			return GlobalCheckFailed(cmd.Name)
		}
	}

	if cmd.OwnerOnly && (r.owners == nil || !r.owners(ctx, inv.AuthorID)) {
		return NewFailure(KindNotOwner, "You do not own this bot.")
	}
	if cmd.GuildOnly && inv.GuildID == "" {
		return NewFailure(KindNoPrivateMessage, "This command cannot be used in private messages.")
	}
	if cmd.DMOnly && inv.GuildID != "" {
		return NewFailure(KindPrivateMessageOnly, "This command can only be used in private messages.")
	}

	if inv.GuildID != "" && r.perms != nil {
		if len(cmd.UserPerms) > 0 {
			missing, err := r.perms.Missing(ctx, inv.AuthorID, inv.ChannelID, cmd.UserPerms)
			if err != nil {
				return fmt.Errorf("check permissions of %s: %w", inv.AuthorID, err)
			}
			if len(missing) > 0 {
				return MissingPerms(KindMissingPermissions, missing)
			}
		}
		if len(cmd.BotPerms) > 0 {
			missing, err := r.perms.Missing(ctx, r.perms.BotID(), inv.ChannelID, cmd.BotPerms)
			if err != nil {
				return fmt.Errorf("check bot permissions: %w", err)
			}
			if len(missing) > 0 {
				return MissingPerms(KindBotMissingPermissions, missing)
			}
		}
	}

	for _, check := range cmd.Checks {
		if err := check(ctx, inv); err != nil {
			if _, ok := AsFailure(err); ok {
				return err
			}
			return &Failure{Kind: KindCheckFailure, Message: err.Error(), cause: err, stack: captureStack(2)}
		}
	}
	return nil
}

// checkCooldown takes one token from the invocation's bucket. An empty
// bucket yields CommandOnCooldown with the time until the next token.
func (c *Command) checkCooldown(inv *Invocation, now time.Time) error {
	if c.Cooldown == nil || c.cooldowns == nil {
		return nil
	}

	key := c.Cooldown.key(inv)
	every := rate.Every(c.Cooldown.Per / time.Duration(c.Cooldown.Rate))
	lim := c.cooldowns.GetOrSet(key, func() interface{} {
		return rate.NewLimiter(every, c.Cooldown.Rate)
	}).(*rate.Limiter)

	res := lim.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return OnCooldown(delay)
	}
	// keep the bucket alive while it is in use
	c.cooldowns.Set(key, lim)
	return nil
}

func (cd *Cooldown) key(inv *Invocation) string {
	switch cd.Bucket {
	case BucketUser:
		return "user:" + inv.AuthorID
	case BucketChannel:
		return "channel:" + inv.ChannelID
	case BucketGuild:
		if inv.GuildID == "" {
			return "user:" + inv.AuthorID
		}
		return "guild:" + inv.GuildID
	default:
		return "global"
	}
}

func (r *Router) isBareMention(content string) bool {
	if r.perms == nil || r.perms.BotID() == "" {
		return false
	}
	id := r.perms.BotID()
	c := strings.TrimSpace(content)
	return c == "<@"+id+">" || c == "<@!"+id+">"
}

func (r *Router) sendPrefixHint(ctx context.Context, msg IncomingMessage) {
	prefix := DefaultPrefix
	if msg.GuildID != "" {
		if p, err := r.prefixes(ctx, msg.GuildID); err == nil && p != "" {
			prefix = p
		}
	}
	reply := Reply{Title: "Prefix", Description: "My prefix is " + wrapInCode(prefix)}
	if err := r.out.Send(ctx, msg.ChannelID, reply); err != nil {
		r.log.Warning("Failed to send prefix hint in %s: %v", msg.ChannelID, err)
	}
}

// splitCommandName splits the first word off a command body
func splitCommandName(body string) (string, string) {
	body = strings.TrimLeft(body, " \t\n")
	i := strings.IndexAny(body, " \t\n")
	if i < 0 {
		return body, ""
	}
	return body[:i], body[i+1:]
}
