// cmd/hookbot/messenger.go
package main

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Field is a titled block of text inside a reply
type Field struct {
	Name  string
	Value string
}

// Reply is a single outbound chat message. When Title and Description are
// empty the message is sent as plain content only.
type Reply struct {
	Title       string
	Description string
	Fields      []Field
	Footer      string
	Plain       string
}

func (r Reply) isEmbed() bool {
	return r.Title != "" || r.Description != "" || len(r.Fields) > 0
}

// Messenger delivers replies to channels and to users' direct messages
type Messenger interface {
	Send(ctx context.Context, channelID string, r Reply) error
	SendDirect(ctx context.Context, userID string, r Reply) error
}

// discordMessenger sends replies through a discordgo session
type discordMessenger struct {
	session *discordgo.Session
}

// NewDiscordMessenger creates a Messenger backed by a Discord session
func NewDiscordMessenger(s *discordgo.Session) Messenger {
	return &discordMessenger{session: s}
}

func (m *discordMessenger) Send(ctx context.Context, channelID string, r Reply) error {
	_, err := m.session.ChannelMessageSendComplex(channelID, toMessageSend(r), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send to channel %s: %w", channelID, err)
	}
	return nil
}

func (m *discordMessenger) SendDirect(ctx context.Context, userID string, r Reply) error {
	ch, err := m.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open dm with %s: %w", userID, err)
	}
	return m.Send(ctx, ch.ID, r)
}

// toMessageSend converts a reply to a discordgo payload. Mentions are
// never resolved so echoed user input cannot ping anyone.
func toMessageSend(r Reply) *discordgo.MessageSend {
	msg := &discordgo.MessageSend{
		Content:         truncate(r.Plain, MaxMessageLength),
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	}
	if !r.isEmbed() {
		return msg
	}

	embed := &discordgo.MessageEmbed{
		Title:       truncate(r.Title, MaxEmbedTitle),
		Description: truncate(r.Description, MaxEmbedDescription),
		Color:       EmbedColor,
	}
	for i, f := range r.Fields {
		if i == MaxEmbedFields {
			break
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  truncate(f.Name, MaxFieldName),
			Value: truncate(f.Value, MaxFieldValue),
		})
	}
	if r.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: truncate(r.Footer, MaxFooterText)}
	}
	msg.Embeds = []*discordgo.MessageEmbed{embed}
	return msg
}

// truncate shortens s to at most limit runes, marking the cut with an
// ellipsis.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 1 {
		return string(runes[:limit])
	}
	return string(runes[:limit-1]) + "…"
}
