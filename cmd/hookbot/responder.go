// cmd/hookbot/responder.go
package main

import (
	"context"
	"runtime/debug"
)

// SettingsReader reads per guild settings. The pipeline only ever reads.
type SettingsReader interface {
	Bool(ctx context.Context, guildID, key string) (bool, error)
}

// Responder renders classification results back to the invoking user
type Responder struct {
	messenger Messenger
	settings  SettingsReader
	log       *Logger
}

// NewResponder creates a responder. settings may be nil, in which case
// every reply goes to the origin channel.
func NewResponder(m Messenger, settings SettingsReader, log *Logger) *Responder {
	if log == nil {
		log = Log()
	}
	return &Responder{messenger: m, settings: settings, log: log}
}

// Respond sends exactly one message for err: the matched rule rendered
// against the failure, or the generic unknown-error message when rule is
// nil. Delivery failures, panics included, are logged and dropped.
func (r *Responder) Respond(ctx context.Context, inv *Invocation, err error, rule *Rule) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("Panic while replying about failed %s: %v\n%s", inv.CommandName(), p, debug.Stack())
		}
	}()

	reply := Reply{Title: unknownTitle, Description: unknownDescription}
	if rule != nil {
		f, _ := AsFailure(err)
		if f == nil {
			f = &Failure{}
		}
		reply = Reply{Title: rule.Title, Description: rule.Message.String(f)}
	}

	if r.private(ctx, inv) {
		if sendErr := r.messenger.SendDirect(ctx, inv.AuthorID, reply); sendErr != nil {
			r.log.Warning("Failed to DM %s about failed %s: %v", inv.AuthorID, inv.CommandName(), sendErr)
		}
		return
	}
	if sendErr := r.messenger.Send(ctx, inv.ChannelID, reply); sendErr != nil {
		r.log.Warning("Failed to reply in channel %s about failed %s: %v", inv.ChannelID, inv.CommandName(), sendErr)
	}
}

// private reports whether the reply belongs in the author's DMs: the
// command is sensitive and its guild has made sensitive commands private.
func (r *Responder) private(ctx context.Context, inv *Invocation) bool {
	if r.settings == nil || inv.GuildID == "" || inv.Command == nil || !inv.Command.Sensitive {
		return false
	}
	on, err := r.settings.Bool(ctx, inv.GuildID, ConfigPrivate)
	if err != nil {
		r.log.Warning("Failed to read %s for guild %s, replying in channel: %v", ConfigPrivate, inv.GuildID, err)
		return false
	}
	return on
}
