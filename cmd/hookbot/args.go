// cmd/hookbot/args.go
package main

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// ArgType selects the converter applied to a command argument
type ArgType int

const (
	ArgString ArgType = iota
	ArgInt
	ArgBool
	ArgUser
	ArgMember
	ArgChannel
	ArgRole
	ArgEmoji
	ArgMessage
)

var argTypeNames = map[ArgType]string{
	ArgString:  "text",
	ArgInt:     "number",
	ArgBool:    "boolean",
	ArgUser:    "user",
	ArgMember:  "member",
	ArgChannel: "channel",
	ArgRole:    "role",
	ArgEmoji:   "emoji",
	ArgMessage: "message",
}

// ArgSpec declares one positional argument
type ArgSpec struct {
	Name     string
	Type     ArgType
	Optional bool
	// Rest consumes the remaining text verbatim; only valid last
	Rest bool
}

// Entities looks up the Discord objects arguments refer to
type Entities interface {
	User(ctx context.Context, id string) (*discordgo.User, error)
	Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error)
	Channel(ctx context.Context, id string) (*discordgo.Channel, error)
	Role(ctx context.Context, guildID, roleID string) (*discordgo.Role, error)
	Emoji(ctx context.Context, guildID, emojiID string) (*discordgo.Emoji, error)
	Message(ctx context.Context, channelID, messageID string) (*discordgo.Message, error)
	CanReadHistory(ctx context.Context, channelID string) (bool, error)
}

// Args holds converted argument values by name
type Args struct {
	values map[string]interface{}
}

// Has reports whether an optional argument was supplied
func (a *Args) Has(name string) bool {
	_, ok := a.values[name]
	return ok
}

func (a *Args) String(name string) string {
	s, _ := a.values[name].(string)
	return s
}

func (a *Args) Int(name string) int64 {
	n, _ := a.values[name].(int64)
	return n
}

func (a *Args) Bool(name string) bool {
	b, _ := a.values[name].(bool)
	return b
}

// Value returns the converted value, typed by the argument's ArgType
func (a *Args) Value(name string) interface{} {
	return a.values[name]
}

// argView walks a raw argument string word by word, honouring quotes
type argView struct {
	s string
	i int
}

var closingQuotes = map[rune]rune{
	'"': '"',
	'“': '”',
	'‘': '’',
	'«': '»',
	'「': '」',
}

func (v *argView) skipSpace() {
	for v.i < len(v.s) && strings.ContainsRune(" \t\n", rune(v.s[v.i])) {
		v.i++
	}
}

func (v *argView) eof() bool {
	v.skipSpace()
	return v.i >= len(v.s)
}

// rest returns everything not yet consumed
func (v *argView) rest() string {
	v.skipSpace()
	out := v.s[v.i:]
	v.i = len(v.s)
	return strings.TrimSpace(out)
}

// next returns the next word or quoted string
func (v *argView) next() (string, error) {
	v.skipSpace()
	runes := []rune(v.s[v.i:])
	if len(runes) == 0 {
		return "", nil
	}

	var b strings.Builder
	closing, quoted := closingQuotes[runes[0]]
	start := 0
	if quoted {
		start = 1
	}

	for j := start; j < len(runes); j++ {
		r := runes[j]
		switch {
		case quoted && r == '\\' && j+1 < len(runes) && (runes[j+1] == closing || runes[j+1] == '\\'):
			b.WriteRune(runes[j+1])
			j++
		case quoted && r == closing:
			if j+1 < len(runes) && !strings.ContainsRune(" \t\n", runes[j+1]) {
				return "", NewFailure(KindInvalidEndOfQuoted, fmt.Sprintf("Expected space after closing quotation but received %q", runes[j+1]))
			}
			v.i += len(string(runes[:j+1]))
			return b.String(), nil
		case !quoted && strings.ContainsRune(" \t\n", r):
			v.i += len(string(runes[:j]))
			return b.String(), nil
		case !quoted && isQuote(r):
			return "", NewFailure(KindUnexpectedQuote, fmt.Sprintf("Unexpected quote mark, %q, in non-quoted string", r))
		default:
			b.WriteRune(r)
		}
	}

	if quoted {
		return "", NewFailure(KindExpectedClosingQuote, fmt.Sprintf("Expected closing %q.", closing))
	}
	v.i = len(v.s)
	return b.String(), nil
}

func isQuote(r rune) bool {
	if _, ok := closingQuotes[r]; ok {
		return true
	}
	for _, c := range closingQuotes {
		if c == r {
			return true
		}
	}
	return false
}

// parseArgs converts raw text into typed arguments
func parseArgs(ctx context.Context, ent Entities, inv *Invocation, specs []ArgSpec, raw string) (*Args, error) {
	args := &Args{values: make(map[string]interface{}, len(specs))}
	view := &argView{s: raw}

	for _, spec := range specs {
		var word string
		if spec.Rest {
			word = view.rest()
		} else {
			if view.eof() {
				word = ""
			} else {
				w, err := view.next()
				if err != nil {
					return nil, err
				}
				word = w
			}
		}

		if word == "" {
			if spec.Optional {
				continue
			}
			return nil, MissingArgument(spec.Name)
		}

		value, err := convertArg(ctx, ent, inv, spec, word)
		if err != nil {
			return nil, err
		}
		args.values[spec.Name] = value
	}

	if !view.eof() {
		return nil, NewFailure(KindTooManyArguments, "Too many arguments passed to "+inv.CommandName())
	}
	return args, nil
}

var (
	idPattern          = regexp.MustCompile(`^([0-9]{15,20})$`)
	userMention        = regexp.MustCompile(`^<@!?([0-9]{15,20})>$`)
	channelMentionExpr = regexp.MustCompile(`^<#([0-9]{15,20})>$`)
	roleMention        = regexp.MustCompile(`^<@&([0-9]{15,20})>$`)
	customEmoji        = regexp.MustCompile(`^<a?:[A-Za-z0-9_]+:([0-9]{15,20})>$`)
	messageLink        = regexp.MustCompile(`^https?://(?:(?:ptb|canary|www)\.)?discord(?:app)?\.com/channels/(?:[0-9]{15,20}|@me)/([0-9]{15,20})/([0-9]{15,20})/?$`)
	channelMessagePair = regexp.MustCompile(`^([0-9]{15,20})-([0-9]{15,20})$`)
)

// matchID returns the snowflake from a raw id or from a mention form
func matchID(word string, mention *regexp.Regexp) (string, bool) {
	if m := idPattern.FindStringSubmatch(word); m != nil {
		return m[1], true
	}
	if m := mention.FindStringSubmatch(word); m != nil {
		return m[1], true
	}
	return "", false
}

func convertArg(ctx context.Context, ent Entities, inv *Invocation, spec ArgSpec, word string) (interface{}, error) {
	switch spec.Type {
	case ArgString:
		return word, nil

	case ArgInt:
		n, err := strconv.ParseInt(word, 10, 64)
		if err != nil {
			return nil, BadArgumentFor(KindBadArgument, word, fmt.Sprintf("Converting to %q failed for parameter %q.", argTypeNames[spec.Type], spec.Name))
		}
		return n, nil

	case ArgBool:
		b, err := parseBool(word)
		if err != nil {
			return nil, err
		}
		return b, nil

	case ArgUser:
		id, ok := matchID(word, userMention)
		if ok && ent != nil {
			if u, err := ent.User(ctx, id); err == nil && u != nil {
				return u, nil
			}
		}
		return nil, BadArgumentFor(KindUserNotFound, word, fmt.Sprintf("User %q not found.", word))

	case ArgMember:
		id, ok := matchID(word, userMention)
		if ok && ent != nil && inv.GuildID != "" {
			if m, err := ent.Member(ctx, inv.GuildID, id); err == nil && m != nil {
				return m, nil
			}
		}
		return nil, BadArgumentFor(KindMemberNotFound, word, fmt.Sprintf("Member %q not found.", word))

	case ArgChannel:
		id, ok := matchID(word, channelMentionExpr)
		if ok && ent != nil {
			if ch, err := ent.Channel(ctx, id); err == nil && ch != nil {
				return ch, nil
			}
		}
		return nil, BadArgumentFor(KindChannelNotFound, word, fmt.Sprintf("Channel %q not found.", word))

	case ArgRole:
		id, ok := matchID(word, roleMention)
		if ok && ent != nil && inv.GuildID != "" {
			if role, err := ent.Role(ctx, inv.GuildID, id); err == nil && role != nil {
				return role, nil
			}
		}
		return nil, BadArgumentFor(KindRoleNotFound, word, fmt.Sprintf("Role %q not found.", word))

	case ArgEmoji:
		m := customEmoji.FindStringSubmatch(word)
		if m == nil {
			return nil, BadArgumentFor(KindPartialEmojiConversion, word, fmt.Sprintf("Couldn't convert %q to PartialEmoji.", word))
		}
		if ent != nil && inv.GuildID != "" {
			if e, err := ent.Emoji(ctx, inv.GuildID, m[1]); err == nil && e != nil {
				return e, nil
			}
		}
		return nil, BadArgumentFor(KindEmojiNotFound, word, fmt.Sprintf("Emoji %q not found.", word))

	case ArgMessage:
		return convertMessage(ctx, ent, inv, word)
	}

	return nil, fmt.Errorf("argument %s: unsupported type %d", spec.Name, spec.Type)
}

// convertMessage accepts a message link, a channel-message id pair, or a
// message id in the invoking channel.
func convertMessage(ctx context.Context, ent Entities, inv *Invocation, word string) (interface{}, error) {
	channelID, messageID := inv.ChannelID, ""
	switch {
	case messageLink.MatchString(word):
		m := messageLink.FindStringSubmatch(word)
		channelID, messageID = m[1], m[2]
	case channelMessagePair.MatchString(word):
		m := channelMessagePair.FindStringSubmatch(word)
		channelID, messageID = m[1], m[2]
	case idPattern.MatchString(word):
		messageID = word
	default:
		return nil, BadArgumentFor(KindMessageNotFound, word, fmt.Sprintf("Message %q not found.", word))
	}

	if ent == nil {
		return nil, BadArgumentFor(KindMessageNotFound, word, fmt.Sprintf("Message %q not found.", word))
	}
	if _, err := ent.Channel(ctx, channelID); err != nil {
		return nil, BadArgumentFor(KindChannelNotFound, channelID, fmt.Sprintf("Channel %q not found.", channelID))
	}
	if ok, err := ent.CanReadHistory(ctx, channelID); err == nil && !ok {
		return nil, BadArgumentFor(KindChannelNotReadable, channelID, fmt.Sprintf("Can't read messages in <#%s>.", channelID))
	}
	msg, err := ent.Message(ctx, channelID, messageID)
	if err != nil || msg == nil {
		return nil, BadArgumentFor(KindMessageNotFound, word, fmt.Sprintf("Message %q not found.", word))
	}
	return msg, nil
}

// parseBool accepts the usual yes/no spellings
func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "yes", "y", "true", "t", "1", "enable", "on":
		return true, nil
	case "no", "n", "false", "f", "0", "disable", "off":
		return false, nil
	}
	return false, BadArgumentFor(KindBadArgument, raw, fmt.Sprintf("Value %s is not a boolean", wrapInCode(raw)))
}
