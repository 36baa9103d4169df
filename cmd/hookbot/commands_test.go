package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// capturedFailures records what the router hands to its failure handler
type capturedFailures struct {
	mu   sync.Mutex
	errs []error
	invs []*Invocation
}

func (c *capturedFailures) OnCommandError(ctx context.Context, inv *Invocation, err error) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
	c.invs = append(c.invs, inv)
	return OutcomeClassified
}

func (c *capturedFailures) last(t *testing.T) error {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.errs, "no failure was reported")
	return c.errs[len(c.errs)-1]
}

func (c *capturedFailures) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

type routerFixture struct {
	router   *Router
	out      *fakeMessenger
	failures *capturedFailures
	perms    *fakePerms
	ran      map[string]int
	mu       sync.Mutex
}

func newRouterFixture(t *testing.T, opts RouterOptions, cmds ...*Command) *routerFixture {
	t.Helper()
	f := &routerFixture{
		out:      &fakeMessenger{},
		failures: &capturedFailures{},
		perms:    &fakePerms{bot: "999", missing: map[string][]string{}},
		ran:      map[string]int{},
	}
	opts.Messenger = f.out
	opts.Failures = f.failures
	if opts.Permissions == nil {
		opts.Permissions = f.perms
	}
	opts.Logger = NopLogger()
	f.router = NewRouter(opts)

	for _, cmd := range cmds {
		if cmd.Run == nil {
			name := cmd.Name
			cmd.Run = func(ctx context.Context, c *CommandContext) error {
				f.mu.Lock()
				f.ran[name]++
				f.mu.Unlock()
				return nil
			}
		}
		require.NoError(t, f.router.Register(cmd))
	}
	t.Cleanup(f.router.Close)
	return f
}

func (f *routerFixture) runs(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ran[name]
}

func guildMessage(content string) IncomingMessage {
	return IncomingMessage{ID: "m1", ChannelID: "c1", GuildID: "g1", AuthorID: "u1", Content: content}
}

func TestRouterPrefixes(t *testing.T) {
	prefixes := func(ctx context.Context, guildID string) (string, error) {
		if guildID == "custom" {
			return "!", nil
		}
		return "", nil
	}
	f := newRouterFixture(t, RouterOptions{Prefixes: prefixes}, &Command{Name: "ping", Aliases: []string{"p"}})
	ctx := context.Background()

	assert.True(t, f.router.Handle(ctx, guildMessage("d.ping")))
	assert.True(t, f.router.Handle(ctx, guildMessage("d. ping")))
	assert.True(t, f.router.Handle(ctx, guildMessage("d.P")))
	assert.True(t, f.router.Handle(ctx, guildMessage("<@999> ping")))
	assert.True(t, f.router.Handle(ctx, guildMessage("<@!999> ping")))

	custom := guildMessage("!ping")
	custom.GuildID = "custom"
	assert.True(t, f.router.Handle(ctx, custom))
	custom.Content = "d.ping"
	assert.False(t, f.router.Handle(ctx, custom))

	assert.False(t, f.router.Handle(ctx, guildMessage("hello there")))
	bot := guildMessage("d.ping")
	bot.AuthorBot = true
	assert.False(t, f.router.Handle(ctx, bot))

	assert.Equal(t, 6, f.runs("ping"))
	assert.Equal(t, 0, f.failures.count())
}

func TestRouterPrefixLoadFailureUsesDefault(t *testing.T) {
	prefixes := func(context.Context, string) (string, error) { return "", errors.New("database is locked") }
	f := newRouterFixture(t, RouterOptions{Prefixes: prefixes}, &Command{Name: "ping"})

	assert.True(t, f.router.Handle(context.Background(), guildMessage("d.ping")))
	assert.Equal(t, 1, f.runs("ping"))
}

func TestRouterBareMentionSendsPrefixHint(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{})

	assert.False(t, f.router.Handle(context.Background(), guildMessage("<@!999>")))

	sent := f.out.channel()
	require.Len(t, sent, 1)
	assert.Equal(t, "My prefix is `d.`", sent[0].Reply.Description)
}

func TestRouterUnknownCommand(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{})

	assert.True(t, f.router.Handle(context.Background(), guildMessage("d.nope")))
	assert.Equal(t, KindCommandNotFound, KindOf(f.failures.last(t)))
}

func TestRouterRejectsDuplicateNames(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{}, &Command{Name: "ping", Aliases: []string{"p"}})

	assert.Error(t, f.router.Register(&Command{Name: "P"}))
	assert.Error(t, f.router.Register(&Command{Name: "pong", Cooldown: &Cooldown{Rate: 0, Per: time.Second}}))
}

func TestRouterChecks(t *testing.T) {
	tests := []struct {
		name    string
		cmd     *Command
		msg     func(IncomingMessage) IncomingMessage
		setup   func(f *routerFixture)
		kind    Kind
		message string
	}{
		{
			name: "disabled",
			cmd:  &Command{Name: "purge", Disabled: true},
			kind: KindDisabledCommand,
		},
		{
			name: "owner only",
			cmd:  &Command{Name: "purge", OwnerOnly: true},
			kind: KindNotOwner,
		},
		{
			name: "guild only in dm",
			cmd:  &Command{Name: "purge", GuildOnly: true},
			msg:  func(m IncomingMessage) IncomingMessage { m.GuildID = ""; return m },
			kind: KindNoPrivateMessage,
		},
		{
			name: "dm only in guild",
			cmd:  &Command{Name: "purge", DMOnly: true},
			kind: KindPrivateMessageOnly,
		},
		{
			name:  "user permissions",
			cmd:   &Command{Name: "purge", UserPerms: []string{"manage_messages"}},
			setup: func(f *routerFixture) { f.perms.missing["u1"] = []string{"manage_messages"} },
			kind:  KindMissingPermissions,
		},
		{
			name:  "bot permissions",
			cmd:   &Command{Name: "purge", BotPerms: []string{"manage_messages", "read_message_history"}},
			setup: func(f *routerFixture) { f.perms.missing["999"] = []string{"read_message_history"} },
			kind:  KindBotMissingPermissions,
		},
		{
			name: "custom check",
			cmd: &Command{Name: "purge", Checks: []func(context.Context, *Invocation) error{
				func(context.Context, *Invocation) error { return errors.New("not today") },
			}},
			kind:    KindCheckFailure,
			message: "not today",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t, RouterOptions{}, tt.cmd)
			if tt.setup != nil {
				tt.setup(f)
			}
			msg := guildMessage("d.purge")
			if tt.msg != nil {
				msg = tt.msg(msg)
			}

			assert.True(t, f.router.Handle(context.Background(), msg))

			err := f.failures.last(t)
			assert.Equal(t, tt.kind, KindOf(err))
			if tt.message != "" {
				assert.Equal(t, tt.message, err.Error())
			}
			assert.Equal(t, 0, f.runs("purge"))
		})
	}
}

func TestRouterMissingPermissionsAreListed(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{}, &Command{Name: "purge", BotPerms: []string{"manage_messages", "read_message_history"}})
	f.perms.missing["999"] = []string{"read_message_history"}

	f.router.Handle(context.Background(), guildMessage("d.purge"))

	fail, ok := AsFailure(f.failures.last(t))
	require.True(t, ok)
	assert.Equal(t, []string{"read_message_history"}, fail.Missing)
}

func TestRouterOwnerPasses(t *testing.T) {
	owners := func(ctx context.Context, userID string) bool { return userID == "u1" }
	f := newRouterFixture(t, RouterOptions{Owners: owners}, &Command{Name: "eval", OwnerOnly: true})

	f.router.Handle(context.Background(), guildMessage("d.eval"))
	assert.Equal(t, 1, f.runs("eval"))
}

func TestRouterGlobalCheckRaisesPlaceholder(t *testing.T) {
	global := func(context.Context, *Invocation) error { return MissingPerms(KindBotMissingPermissions, []string{"embed_links"}) }
	f := newRouterFixture(t, RouterOptions{GlobalCheck: global}, &Command{Name: "help", Disabled: false})

	f.router.Handle(context.Background(), guildMessage("d.help"))

	err := f.failures.last(t)
	assert.Equal(t, KindCheckFailure, KindOf(err))
	assert.Equal(t, "The global check functions for command help failed.", err.Error())
}

func TestRouterCooldown(t *testing.T) {
	defer goleak.VerifyNone(t)

	cmd := &Command{Name: "purge", Cooldown: &Cooldown{Rate: 1, Per: 10 * time.Second, Bucket: BucketUser}}
	router := NewRouter(RouterOptions{Logger: NopLogger()})
	require.NoError(t, router.Register(cmd))
	defer router.Close()

	now := time.Now()
	inv := &Invocation{AuthorID: "u1", ChannelID: "c1", Command: cmd}
	other := &Invocation{AuthorID: "u2", ChannelID: "c1", Command: cmd}

	require.NoError(t, cmd.checkCooldown(inv, now))
	require.NoError(t, cmd.checkCooldown(other, now))

	err := cmd.checkCooldown(inv, now.Add(4*time.Second))
	fail, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, KindCommandOnCooldown, fail.Kind)
	assert.InDelta(t, 6*time.Second, fail.RetryAfter, float64(10*time.Millisecond))

	// a rejected attempt does not push the window back
	assert.NoError(t, cmd.checkCooldown(inv, now.Add(10*time.Second)))
}

func TestRouterCooldownRefillsOneTokenAtATime(t *testing.T) {
	defer goleak.VerifyNone(t)

	cmd := &Command{Name: "config", Cooldown: &Cooldown{Rate: 3, Per: 8 * time.Second, Bucket: BucketChannel}}
	router := NewRouter(RouterOptions{Logger: NopLogger()})
	require.NoError(t, router.Register(cmd))
	defer router.Close()

	now := time.Now()
	inv := &Invocation{AuthorID: "u1", ChannelID: "c1", Command: cmd}
	for i := 0; i < 3; i++ {
		require.NoError(t, cmd.checkCooldown(inv, now))
	}

	// the retry is the time to the next token, not the rest of the window
	fail, ok := AsFailure(cmd.checkCooldown(inv, now))
	require.True(t, ok)
	assert.InDelta(t, float64(8*time.Second/3), float64(fail.RetryAfter), float64(10*time.Millisecond))

	assert.NoError(t, cmd.checkCooldown(inv, now.Add(8*time.Second/3+time.Millisecond)))
}

func TestCooldownBuckets(t *testing.T) {
	inv := &Invocation{AuthorID: "u1", ChannelID: "c1", GuildID: "g1"}
	dm := &Invocation{AuthorID: "u1", ChannelID: "c2"}

	assert.Equal(t, "global", (&Cooldown{}).key(inv))
	assert.Equal(t, "user:u1", (&Cooldown{Bucket: BucketUser}).key(inv))
	assert.Equal(t, "channel:c1", (&Cooldown{Bucket: BucketChannel}).key(inv))
	assert.Equal(t, "guild:g1", (&Cooldown{Bucket: BucketGuild}).key(inv))
	assert.Equal(t, "user:u1", (&Cooldown{Bucket: BucketGuild}).key(dm))
}

func TestRouterMaxConcurrency(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	cmd := &Command{
		Name:           "export",
		MaxConcurrency: 1,
		Run: func(ctx context.Context, c *CommandContext) error {
			close(started)
			<-release
			return nil
		},
	}
	f := newRouterFixture(t, RouterOptions{}, cmd)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.router.Handle(ctx, guildMessage("d.export"))
	}()
	<-started

	f.router.Handle(ctx, guildMessage("d.export"))
	assert.Equal(t, KindMaxConcurrencyReached, KindOf(f.failures.last(t)))

	close(release)
	wg.Wait()
	assert.Equal(t, 1, f.failures.count())
}

func TestRouterWrapsCommandErrors(t *testing.T) {
	cause := errors.New("database operation timed out")
	f := newRouterFixture(t, RouterOptions{},
		&Command{Name: "fail", Run: func(context.Context, *CommandContext) error { return cause }},
		&Command{Name: "typed", Run: func(context.Context, *CommandContext) error { return MissingArgument("amount") }},
		&Command{Name: "boom", Run: func(context.Context, *CommandContext) error { panic("nil map") }},
	)
	ctx := context.Background()

	f.router.Handle(ctx, guildMessage("d.fail"))
	fail, ok := AsFailure(f.failures.last(t))
	require.True(t, ok)
	assert.Equal(t, KindInvokeError, fail.Kind)
	assert.Same(t, cause, fail.Original())

	f.router.Handle(ctx, guildMessage("d.typed"))
	assert.Equal(t, KindMissingRequiredArgument, KindOf(f.failures.last(t)))

	f.router.Handle(ctx, guildMessage("d.boom"))
	fail, ok = AsFailure(f.failures.last(t))
	require.True(t, ok)
	assert.Equal(t, KindInvokeError, fail.Kind)
	var p *panicError
	require.ErrorAs(t, fail.Original(), &p)
	assert.Equal(t, "nil map", p.value)
}

func TestRouterParsesArguments(t *testing.T) {
	var got int64
	cmd := &Command{
		Name: "purge",
		Args: []ArgSpec{{Name: "amount", Type: ArgInt}},
		Run: func(ctx context.Context, c *CommandContext) error {
			got = c.Args.Int("amount")
			return nil
		},
	}
	f := newRouterFixture(t, RouterOptions{}, cmd)
	ctx := context.Background()

	f.router.Handle(ctx, guildMessage("d.purge 25"))
	assert.Equal(t, int64(25), got)

	f.router.Handle(ctx, guildMessage("d.purge"))
	fail, ok := AsFailure(f.failures.last(t))
	require.True(t, ok)
	assert.Equal(t, KindMissingRequiredArgument, fail.Kind)
	assert.Equal(t, "amount", fail.Param)
	assert.Equal(t, "purge", f.failures.invs[len(f.failures.invs)-1].CommandName())
}

func TestSignature(t *testing.T) {
	cmd := &Command{Args: []ArgSpec{
		{Name: "option", Optional: true},
		{Name: "new value", Optional: true, Rest: true},
	}}
	assert.Equal(t, "[option] [new value...]", cmd.Signature())
	assert.Equal(t, "<amount>", (&Command{Args: []ArgSpec{{Name: "amount"}}}).Signature())
}

func TestInvocationContext(t *testing.T) {
	named := testInvocation().Context()
	assert.Equal(t, map[string]interface{}{
		"message": "d.purge 10",
		"command": "purge",
		"author":  "u1",
		"channel": "c1",
		"guild":   "g1",
	}, named)

	dm := testInvocation()
	dm.GuildID = ""
	assert.NotContains(t, dm.Context(), "guild")
}
