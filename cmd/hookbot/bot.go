// cmd/hookbot/bot.go
package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Bot wires the Discord session to the command router and the failure
// pipeline.
type Bot struct {
	discord   *discordgo.Session
	config    *Config
	settings  *ConfigManager
	store     *GuildStore
	owner     *cachedOwner
	router    *Router
	hook      *Hook
	incidents *IncidentLog
	metrics   *PipelineMetrics
	status    *StatusServer
	messenger Messenger
	logger    *Logger
	startTime time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBot builds every component from cfg but does not connect
func NewBot(cfg *Config) (*Bot, error) {
	discord, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	discord.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	settings, err := NewConfigManager(cfg.SettingsPath, ConfigReloadInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	store, err := OpenGuildStore(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		settings.Stop()
		return nil, fmt.Errorf("failed to open guild store: %w", err)
	}

	b := &Bot{
		discord:   discord,
		config:    cfg,
		settings:  settings,
		store:     store,
		owner:     newCachedOwner(applicationOwner(discord), cfg.OwnerIDs, DefaultOwnerCacheTTL),
		incidents: NewIncidentLog(settings.Settings().IncidentBuffer),
		metrics:   NewPipelineMetrics(),
		messenger: NewDiscordMessenger(discord),
		logger:    Log(),
		startTime: time.Now(),
	}
	b.status = NewStatusServer(b.incidents, b.metrics, store)

	b.applySettings(settings.Settings())
	settings.SetReloadHandler(b.applySettings)

	perms := &statePermissions{session: discord}
	globalCheck := botPermissionCheck(perms, settings.Baseline)

	b.hook = NewHook(HookOptions{
		Responder:   NewResponder(b.messenger, store, b.logger),
		Escalator:   NewEscalator(b.messenger, b.owner.Resolve, b.logger),
		Messenger:   b.messenger,
		GlobalCheck: globalCheck,
		Permissions: settings.Permissions,
		Recorders:   []Recorder{b.incidents, b.metrics, b.status},
		Logger:      b.logger,
	})

	b.router = NewRouter(RouterOptions{
		Prefixes:    store.Prefix,
		Permissions: perms,
		Entities:    &discordEntities{session: discord},
		Owners:      b.owner.IsOwner,
		GlobalCheck: globalCheck,
		Failures:    b.hook,
		Messenger:   b.messenger,
		Logger:      b.logger,
	})
	if err := RegisterBuiltins(b.router, &Builtins{
		Store:       store,
		Messenger:   b.messenger,
		Permissions: perms,
		AuditChan:   cfg.AuditChannelID,
		StartTime:   b.startTime,
		Latency:     discord.HeartbeatLatency,
	}); err != nil {
		b.close()
		return nil, err
	}

	return b, nil
}

// applySettings applies the parts of the settings file that are not read
// on every failure.
func (b *Bot) applySettings(s *Settings) {
	if s.LogLevel != "" {
		b.logger.SetLevel(ParseLogLevel(s.LogLevel))
	}
	b.logger.Info("Settings applied: plain=%v rich=%v baseline=%v", s.Permissions.Plain, s.Permissions.Rich, s.Baseline())
}

// Start connects to Discord and starts the background services
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("Starting %s v%s", AppName, AppVersion)

	ctx, b.cancel = context.WithCancel(ctx)

	b.discord.AddHandler(b.handleReady)
	b.discord.AddHandler(b.handleMessageCreate)
	b.discord.AddHandler(b.handleGuildCreate)
	b.discord.AddHandler(b.handleGuildDelete)

	if err := b.discord.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	if err := b.owner.StartRefresh(b.config.OwnerRefresh); err != nil {
		b.logger.Warning("Owner refresh disabled: %v", err)
	}
	b.settings.StartWatching()

	if b.config.StatusPort > 0 {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer b.hook.Recover(ctx, "status_server")
			if err := b.status.Start(ctx, b.config.StatusPort); err != nil {
				b.logger.Error("Status server error: %v", err)
			}
		}()
	}
	return nil
}

// Stop disconnects and releases every resource
func (b *Bot) Stop() error {
	b.logger.Info("Stopping bot...")
	if b.cancel != nil {
		b.cancel()
	}
	err := b.discord.Close()
	b.wg.Wait()
	b.close()
	return err
}

func (b *Bot) close() {
	if b.router != nil {
		b.router.Close()
	}
	b.owner.Close()
	b.settings.Stop()
	if err := b.store.Close(); err != nil {
		b.logger.Error("Failed to close guild store: %v", err)
	}
}

// Discord event handlers

func (b *Bot) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	ctx := context.Background()
	defer b.hook.Recover(ctx, "ready", r)

	b.logger.Info("Bot is ready! Logged in as %s", r.User.String())
	if err := s.UpdateGameStatus(0, DefaultPrefix+"help"); err != nil {
		b.logger.Warning("Failed to update status: %v", err)
	}
}

func (b *Bot) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultCommandTimeout)
	defer cancel()
	defer b.hook.Recover(ctx, "message_create", m.Message)

	if m.Author == nil {
		return
	}
	msg := IncomingMessage{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		AuthorID:  m.Author.ID,
		AuthorBot: m.Author.Bot,
		Content:   m.Content,
	}
	if m.GuildID != "" {
		if g, err := s.State.Guild(m.GuildID); err == nil {
			msg.GuildName = g.Name
		}
	}
	b.router.Handle(ctx, msg)
}

func (b *Bot) handleGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultSendTimeout)
	defer cancel()
	defer b.hook.Recover(ctx, "guild_create", g.ID)

	if err := b.store.Ensure(ctx, g.ID); err != nil {
		b.hook.OnEventError(ctx, "guild_create", err, []interface{}{g.ID}, map[string]interface{}{"guild": g.Name})
	}
}

// handleGuildDelete drops a guild's stored data once the bot is removed.
// Outages also raise GuildDelete, marked unavailable; those keep the data.
func (b *Bot) handleGuildDelete(s *discordgo.Session, g *discordgo.GuildDelete) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultSendTimeout)
	defer cancel()
	defer b.hook.Recover(ctx, "guild_delete", g.ID)

	if g.Unavailable {
		return
	}
	if err := b.store.Delete(ctx, g.ID); err != nil {
		b.hook.OnEventError(ctx, "guild_delete", err, []interface{}{g.ID}, nil)
		return
	}
	b.logger.Info("Removed stored data for guild %s", g.ID)
}

// discordEntities resolves arguments from the state cache, falling back
// to the REST API.
type discordEntities struct {
	session *discordgo.Session
}

func (e *discordEntities) User(ctx context.Context, id string) (*discordgo.User, error) {
	return e.session.User(id, discordgo.WithContext(ctx))
}

func (e *discordEntities) Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	if m, err := e.session.State.Member(guildID, userID); err == nil {
		return m, nil
	}
	return e.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
}

func (e *discordEntities) Channel(ctx context.Context, id string) (*discordgo.Channel, error) {
	if ch, err := e.session.State.Channel(id); err == nil {
		return ch, nil
	}
	return e.session.Channel(id, discordgo.WithContext(ctx))
}

func (e *discordEntities) Role(ctx context.Context, guildID, roleID string) (*discordgo.Role, error) {
	if r, err := e.session.State.Role(guildID, roleID); err == nil {
		return r, nil
	}
	roles, err := e.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	for _, r := range roles {
		if r.ID == roleID {
			return r, nil
		}
	}
	return nil, discordgo.ErrStateNotFound
}

func (e *discordEntities) Emoji(ctx context.Context, guildID, emojiID string) (*discordgo.Emoji, error) {
	if em, err := e.session.State.Emoji(guildID, emojiID); err == nil {
		return em, nil
	}
	return e.session.GuildEmoji(guildID, emojiID, discordgo.WithContext(ctx))
}

func (e *discordEntities) Message(ctx context.Context, channelID, messageID string) (*discordgo.Message, error) {
	return e.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
}

func (e *discordEntities) CanReadHistory(ctx context.Context, channelID string) (bool, error) {
	if e.session.State.User == nil {
		return false, discordgo.ErrStateNotFound
	}
	granted, err := e.session.State.UserChannelPermissions(e.session.State.User.ID, channelID)
	if err != nil {
		// DMs and uncached channels
		return true, nil
	}
	return len(missingFrom(granted, []string{"view_channel", "read_message_history"})) == 0, nil
}
