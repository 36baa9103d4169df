package main

import (
	"context"
	"sync"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type sentReply struct {
	Direct bool
	Target string
	Reply  Reply
}

type fakeMessenger struct {
	mu        sync.Mutex
	sent      []sentReply
	sendErr   error
	directErr error
	panicOn   string
}

func (m *fakeMessenger) Send(ctx context.Context, channelID string, r Reply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panicOn == "send" {
		panic("messenger exploded")
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentReply{Target: channelID, Reply: r})
	return nil
}

func (m *fakeMessenger) SendDirect(ctx context.Context, userID string, r Reply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panicOn == "direct" {
		panic("messenger exploded")
	}
	if m.directErr != nil {
		return m.directErr
	}
	m.sent = append(m.sent, sentReply{Direct: true, Target: userID, Reply: r})
	return nil
}

func (m *fakeMessenger) Sent() []sentReply {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentReply(nil), m.sent...)
}

func (m *fakeMessenger) direct() []sentReply {
	var out []sentReply
	for _, s := range m.Sent() {
		if s.Direct {
			out = append(out, s)
		}
	}
	return out
}

func (m *fakeMessenger) channel() []sentReply {
	var out []sentReply
	for _, s := range m.Sent() {
		if !s.Direct {
			out = append(out, s)
		}
	}
	return out
}

type fakeSettings struct {
	values map[string]bool
	err    error
}

func (s *fakeSettings) Bool(ctx context.Context, guildID, key string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.values[guildID+"/"+key], nil
}

// fakePerms reports the configured missing permissions per user
type fakePerms struct {
	bot     string
	missing map[string][]string
	err     error
}

func (p *fakePerms) BotID() string { return p.bot }

func (p *fakePerms) Missing(ctx context.Context, userID, channelID string, names []string) ([]string, error) {
	if p.err != nil {
		return nil, p.err
	}
	var out []string
	for _, want := range names {
		for _, m := range p.missing[userID] {
			if m == want {
				out = append(out, want)
			}
		}
	}
	return out, nil
}

type recorded struct {
	mu        sync.Mutex
	incidents []Incident
}

func (r *recorded) Record(i Incident) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents = append(r.incidents, i)
}

func (r *recorded) all() []Incident {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Incident(nil), r.incidents...)
}

func observedLogger() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewLoggerFromCore(core), logs
}

func ownerIs(id string) OwnerResolver {
	return func(context.Context) (string, error) { return id, nil }
}

func testInvocation() *Invocation {
	return &Invocation{
		MessageID:   "m1",
		ChannelID:   "c1",
		AuthorID:    "u1",
		GuildID:     "g1",
		GuildName:   "Test *Guild*",
		Content:     "d.purge 10",
		Prefix:      "d.",
		InvokedWith: "purge",
		Command:     &Command{Name: "purge"},
	}
}
