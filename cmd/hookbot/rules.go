// cmd/hookbot/rules.go
package main

import (
	"fmt"
	"math"
	"strings"
)

// Message is either constant text or a pure function of the failure
type Message struct {
	text   string
	render func(*Failure) string
}

// Text returns a constant message
func Text(s string) Message { return Message{text: s} }

// Render returns a message computed from the failure
func Render(fn func(*Failure) string) Message { return Message{render: fn} }

// String renders the message for f
func (m Message) String(f *Failure) string {
	if m.render != nil {
		return m.render(f)
	}
	return m.text
}

// Rule maps one or more failure kinds to a user-facing title and message
type Rule struct {
	Pattern []Kind
	Title   string
	Message Message
}

// Matches reports whether kind is, or specialises, any kind in the pattern
func (r Rule) Matches(kind Kind) bool {
	for _, p := range r.Pattern {
		if kind.Is(p) {
			return true
		}
	}
	return false
}

func kinds(k ...Kind) []Kind { return k }

// rules is ordered most specific first: each converter miss precedes
// BadArgument, which precedes UserInputError, and every concrete check
// precedes CheckFailure.
var rules = []Rule{
	{
		kinds(KindMissingRequiredArgument),
		"Missing argument",
		Render(func(f *Failure) string {
			return fmt.Sprintf("The %s argument is required, please read help for more info.", wrapInCode(f.Param))
		}),
	},
	{
		kinds(KindTooManyArguments),
		"Too many arguments",
		Text("Too many arguments were provided, please read help for more info."),
	},
	{
		kinds(KindMessageNotFound),
		"Message not found",
		notFound("message"),
	},
	{
		kinds(KindMemberNotFound),
		"Member not found",
		notFound("member"),
	},
	{
		kinds(KindUserNotFound),
		"User not found",
		notFound("user"),
	},
	{
		kinds(KindChannelNotFound),
		"Channel not found",
		notFound("channel"),
	},
	{
		kinds(KindEmojiNotFound, KindPartialEmojiConversion),
		"Emoji not found",
		notFound("emoji"),
	},
	{
		kinds(KindChannelNotReadable),
		"Channel not readable",
		Render(func(f *Failure) string {
			return fmt.Sprintf("Could not read messages in %s.", channelMention(f.Argument))
		}),
	},
	{
		kinds(KindRoleNotFound),
		"Role not found",
		notFound("role"),
	},
	{
		kinds(KindBadArgument, KindBadUnionArgument),
		"Bad argument",
		Text("An argument you provided was invalid or not found, please read help for more info."),
	},
	{
		kinds(KindArgumentParsingError),
		"Argument parsing failed",
		Text("Failed to parse arguments, please check for quote marks."),
	},
	{
		kinds(KindUserInputError),
		"Bad user input",
		Text("Details are unknown, please read help for more info."),
	},
	{
		kinds(KindMissingPermissions),
		"Missing permissions",
		Render(func(f *Failure) string {
			return fmt.Sprintf("You are missing permissions: %s.", permissionList(f.Missing))
		}),
	},
	{
		kinds(KindBotMissingPermissions),
		"Missing permissions",
		Render(func(f *Failure) string {
			return fmt.Sprintf("I am missing permissions: %s.", permissionList(f.Missing))
		}),
	},
	{
		kinds(KindPrivateMessageOnly),
		"Invalid context",
		Text("This command can only be used in DMs"),
	},
	{
		kinds(KindNoPrivateMessage),
		"Invalid context",
		Text("This command can only be used in servers"),
	},
	{
		kinds(KindCheckFailure),
		"Check failure",
		Text("A condition failed, please read help for more info."),
	},
	{
		kinds(KindCommandOnCooldown),
		"Cooldown",
		Render(func(f *Failure) string {
			return fmt.Sprintf("You're on cooldown, you can use this command again in %s.", cooldownSeconds(f.RetryAfter.Seconds()))
		}),
	},
	{
		kinds(KindMaxConcurrencyReached),
		"Command already running",
		Text("This command is at its maximum capacity, please wait for any commands to finish."),
	},
}

// Unknown failure reply, sent alongside every escalation
const (
	unknownTitle       = "Error"
	unknownDescription = "An unknown error has occurred, it has been reported."
)

func notFound(what string) Message {
	return Render(func(f *Failure) string {
		return fmt.Sprintf("Could not find %s for %s.", what, wrapInCode(f.Argument))
	})
}

// cooldownSeconds rounds up and pluralises a retry delay
func cooldownSeconds(seconds float64) string {
	n := int(math.Ceil(seconds))
	if n == 1 {
		return "1 second"
	}
	return fmt.Sprintf("%d seconds", n)
}

// permissionList quotes each permission name and joins them
func permissionList(perms []string) string {
	quoted := make([]string, len(perms))
	for i, p := range perms {
		quoted[i] = wrapInCode(p)
	}
	return strings.Join(quoted, ", ")
}

func channelMention(id string) string {
	if id == "" {
		return "that channel"
	}
	return "<#" + id + ">"
}

const zeroWidthSpace = "\u200b"

// wrapInCode renders s as inline code. Backticks inside s are broken up
// with zero width spaces so they cannot close the span early.
func wrapInCode(s string) string {
	s = strings.ReplaceAll(s, "`", "`"+zeroWidthSpace)
	if s == "" || strings.HasPrefix(s, "`") {
		s = zeroWidthSpace + s
	}
	return "`" + s + "`"
}

// fencedBlock renders s as a fenced code block of at most limit runes.
// The text is cut before the fence is closed, never after.
func fencedBlock(s, lang string, limit int) string {
	room := limit - len("```\n\n```") - len(lang)
	if room < 1 {
		room = 1
	}
	return "```" + lang + "\n" + truncate(escapeFences(s), room) + "\n```"
}

// escapeFences separates every pair of adjacent backticks, so no run of
// any length can open or close a fence.
func escapeFences(s string) string {
	if !strings.Contains(s, "``") {
		return s
	}
	var b strings.Builder
	prev := rune(0)
	for _, r := range s {
		if r == '`' && prev == '`' {
			b.WriteString(zeroWidthSpace)
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

// escapeMarkdown backslash escapes Discord markdown control characters
func escapeMarkdown(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\', '*', '_', '~', '`', '|', '>':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
