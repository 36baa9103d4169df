// cmd/hookbot/hook.go
package main

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

// Outcome is the terminal state of one pass through the dispatch hook
type Outcome string

const (
	OutcomeIgnored      Outcome = "ignored"
	OutcomeDirectNotice Outcome = "direct_notice"
	OutcomePlainNotice  Outcome = "plain_notice"
	OutcomeClassified   Outcome = "classified"
	OutcomeUnclassified Outcome = "unclassified"
	OutcomeEventError   Outcome = "event_error"
)

// ignoredKinds are expected control flow, never surfaced or escalated
var ignoredKinds = []Kind{
	KindCommandNotFound,
	KindDisabledCommand,
	KindNotOwner,
}

// PermissionGroups splits the bot's permission names by what losing them
// breaks: Plain means the bot cannot talk in the channel at all, Rich means
// it can only send plain text.
type PermissionGroups struct {
	Plain []string `yaml:"plain"`
	Rich  []string `yaml:"rich"`
}

// DefaultPermissionGroups is used when no settings file overrides it
func DefaultPermissionGroups() PermissionGroups {
	return PermissionGroups{
		Plain: []string{"send_messages"},
		Rich:  []string{"embed_links", "attach_files"},
	}
}

// Incident is what the hook records about each failure it handled
type Incident struct {
	Time       time.Time `json:"time"`
	Outcome    Outcome   `json:"outcome"`
	Kind       Kind      `json:"kind,omitempty"`
	Event      string    `json:"event"`
	Command    string    `json:"command,omitempty"`
	GuildID    string    `json:"guild_id,omitempty"`
	IncidentID string    `json:"incident_id,omitempty"`
	Delivered  bool      `json:"delivered"`
}

// Recorder observes handled failures
type Recorder interface {
	Record(Incident)
}

// HookOptions configures a Hook
type HookOptions struct {
	Classifier  *Classifier
	Responder   *Responder
	Escalator   *Escalator
	Messenger   Messenger
	GlobalCheck func(ctx context.Context, inv *Invocation) error
	Permissions func() PermissionGroups
	Recorders   []Recorder
	Logger      *Logger
}

// Hook is the single entry point for failures raised while dispatching a
// command or handling a gateway event. Nothing it does may panic or return
// an error to its caller.
type Hook struct {
	classifier  *Classifier
	responder   *Responder
	escalator   *Escalator
	messenger   Messenger
	globalCheck func(ctx context.Context, inv *Invocation) error
	permissions func() PermissionGroups
	recorders   []Recorder
	log         *Logger
}

// NewHook creates a dispatch hook
func NewHook(opts HookOptions) *Hook {
	h := &Hook{
		classifier:  opts.Classifier,
		responder:   opts.Responder,
		escalator:   opts.Escalator,
		messenger:   opts.Messenger,
		globalCheck: opts.GlobalCheck,
		permissions: opts.Permissions,
		recorders:   opts.Recorders,
		log:         opts.Logger,
	}
	if h.classifier == nil {
		h.classifier = NewClassifier(rules)
	}
	if h.permissions == nil {
		h.permissions = DefaultPermissionGroups
	}
	if h.log == nil {
		h.log = Log()
	}
	return h
}

// OnCommandError handles one failed command invocation
func (h *Hook) OnCommandError(ctx context.Context, inv *Invocation, raised error) (outcome Outcome) {
	incident := Incident{
		Time:    time.Now(),
		Event:   "command_error",
		Command: inv.CommandName(),
		GuildID: inv.GuildID,
	}
	defer func() {
		if p := recover(); p != nil {
			h.log.Error("Panic in dispatch hook for %s: %v\n%s", incident.Command, p, debug.Stack())
			outcome = OutcomeIgnored
		}
		incident.Outcome = outcome
		h.record(incident)
	}()

	if raised == nil {
		return OutcomeIgnored
	}

	// The global check placeholder hides the real reason; asking again
	// recovers it.
	if strings.HasPrefix(raised.Error(), globalCheckPrefix) && h.globalCheck != nil {
		if err := h.globalCheck(ctx, inv); err != nil {
			if _, ok := AsFailure(err); ok {
				raised = err
			}
		}
	}

	err := raised
	if f, ok := AsFailure(err); ok && f.Original() != nil {
		err = f.Original()
	}
	kind := KindOf(err)
	incident.Kind = kind

	for _, k := range ignoredKinds {
		if kind.Is(k) {
			h.log.Debug("Ignoring %s from %s", kind, incident.Command)
			return OutcomeIgnored
		}
	}

	if kind.Is(KindBotMissingPermissions) {
		f, _ := AsFailure(err)
		groups := h.permissions()
		switch {
		case containsAny(f.Missing, groups.Plain):
			h.noticeCannotSpeak(ctx, inv)
			return OutcomeDirectNotice
		case containsAny(f.Missing, groups.Rich):
			h.noticePlainOnly(ctx, inv)
			return OutcomePlainNotice
		}
	}

	if rule, ok := h.classifier.Classify(err); ok {
		h.responder.Respond(ctx, inv, err, &rule)
		return OutcomeClassified
	}

	h.responder.Respond(ctx, inv, err, nil)

	report := BuildReport(incident.Event, raised, nil, inv.Context())
	incident.IncidentID = report.IncidentID
	incident.Delivered = h.escalate(ctx, report)
	return OutcomeUnclassified
}

// OnEventError handles a failure raised by a gateway event handler. There
// is no user to answer, so the failure is only escalated.
func (h *Hook) OnEventError(ctx context.Context, event string, err error, args []interface{}, named map[string]interface{}) {
	incident := Incident{Time: time.Now(), Event: event, Kind: KindOf(err), Outcome: OutcomeEventError}
	defer func() {
		if p := recover(); p != nil {
			h.log.Error("Panic in event error hook for %s: %v\n%s", event, p, debug.Stack())
		}
		h.record(incident)
	}()

	report := BuildReport(event, err, args, named)
	incident.IncidentID = report.IncidentID
	incident.Delivered = h.escalate(ctx, report)
}

// Recover is deferred by event handlers. It turns a panic into an event
// error carrying the handler's arguments.
func (h *Hook) Recover(ctx context.Context, event string, args ...interface{}) {
	p := recover()
	if p == nil {
		return
	}
	err := &panicError{value: p, stack: string(debug.Stack())}
	h.OnEventError(ctx, event, err, args, nil)
}

func (h *Hook) escalate(ctx context.Context, r DiagnosticReport) bool {
	if h.escalator == nil {
		h.log.Error("Unhandled error in %s (incident %s), no escalator configured:\n%s", r.EventName, r.IncidentID, r.Trace)
		return false
	}
	return h.escalator.Escalate(ctx, r)
}

// noticeCannotSpeak tells the author in private that the bot cannot send
// messages in the channel. A failed DM is dropped.
func (h *Hook) noticeCannotSpeak(ctx context.Context, inv *Invocation) {
	where := channelMention(inv.ChannelID)
	if inv.GuildName != "" {
		where = escapeMarkdown(inv.GuildName) + ", " + where
	}
	msg := fmt.Sprintf("Hey, I don't have permission to send messages in %s. Please notify an administrator about this.", where)
	if err := h.messenger.SendDirect(ctx, inv.AuthorID, Reply{Plain: msg}); err != nil {
		h.log.Debug("Could not DM %s about missing send permission: %v", inv.AuthorID, err)
	}
}

func (h *Hook) noticePlainOnly(ctx context.Context, inv *Invocation) {
	const msg = "I don't have permission to embed links or attach files in this channel. Please notify an administrator about this."
	if err := h.messenger.Send(ctx, inv.ChannelID, Reply{Plain: msg}); err != nil {
		h.log.Warning("Could not send plain permission notice in %s: %v", inv.ChannelID, err)
	}
}

// record runs after the hook's own recover, so each recorder gets its own
func (h *Hook) record(i Incident) {
	for _, r := range h.recorders {
		h.recordTo(r, i)
	}
}

func (h *Hook) recordTo(r Recorder, i Incident) {
	defer func() {
		if p := recover(); p != nil {
			h.log.Error("Panic in %T while recording %s: %v", r, i.Event, p)
		}
	}()
	r.Record(i)
}

func containsAny(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}
