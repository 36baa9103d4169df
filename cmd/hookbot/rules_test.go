package main

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindIs(t *testing.T) {
	assert.True(t, KindMemberNotFound.Is(KindMemberNotFound))
	assert.True(t, KindMemberNotFound.Is(KindBadArgument))
	assert.True(t, KindMemberNotFound.Is(KindUserInputError))
	assert.True(t, KindMemberNotFound.Is(KindCommandError))
	assert.True(t, KindUnexpectedQuote.Is(KindArgumentParsingError))
	assert.True(t, KindBotMissingPermissions.Is(KindCheckFailure))

	assert.False(t, KindBadArgument.Is(KindMemberNotFound))
	assert.False(t, KindBotMissingPermissions.Is(KindMissingPermissions))
	assert.False(t, Kind("DatabaseTimeout").Is(KindCommandError))
	assert.False(t, Kind("").Is(KindCommandError))
}

func TestAsFailureFindsWrappedFailure(t *testing.T) {
	inner := MissingArgument("amount")
	err := fmt.Errorf("dispatch: %w", inner)

	f, ok := AsFailure(err)
	require.True(t, ok)
	assert.Same(t, inner, f)
	assert.Equal(t, KindMissingRequiredArgument, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestFailureOriginal(t *testing.T) {
	cause := errors.New("database operation timed out")
	assert.Same(t, cause, InvokeError(cause).Original())
	assert.Nil(t, MissingArgument("x").Original())
	assert.ErrorIs(t, InvokeError(cause), cause)
}

func TestGlobalCheckPlaceholderText(t *testing.T) {
	f := GlobalCheckFailed("config")
	assert.Equal(t, "The global check functions for command config failed.", f.Error())
	assert.Equal(t, KindCheckFailure, f.Kind)
}

func TestRuleTableHasNoShadowedRules(t *testing.T) {
	for i, r := range rules {
		for _, k := range r.Pattern {
			for j := 0; j < i; j++ {
				assert.False(t, rules[j].Matches(k),
					"rule %d (%s) shadows %s in rule %d (%s)", j, rules[j].Title, k, i, r.Title)
			}
		}
	}
}

func TestClassifierPicksMostSpecificRule(t *testing.T) {
	c := NewClassifier(rules)

	tests := []struct {
		kind  Kind
		title string
	}{
		{KindMissingRequiredArgument, "Missing argument"},
		{KindMemberNotFound, "Member not found"},
		{KindUserNotFound, "User not found"},
		{KindChannelNotFound, "Channel not found"},
		{KindChannelNotReadable, "Channel not readable"},
		{KindRoleNotFound, "Role not found"},
		{KindEmojiNotFound, "Emoji not found"},
		{KindPartialEmojiConversion, "Emoji not found"},
		{KindMessageNotFound, "Message not found"},
		{KindBadArgument, "Bad argument"},
		{KindBadUnionArgument, "Bad argument"},
		{KindUnexpectedQuote, "Argument parsing failed"},
		{KindExpectedClosingQuote, "Argument parsing failed"},
		{KindInvalidEndOfQuoted, "Argument parsing failed"},
		{KindUserInputError, "Bad user input"},
		{KindTooManyArguments, "Too many arguments"},
		{KindMissingPermissions, "Missing permissions"},
		{KindBotMissingPermissions, "Missing permissions"},
		{KindPrivateMessageOnly, "Invalid context"},
		{KindNoPrivateMessage, "Invalid context"},
		{KindCheckFailure, "Check failure"},
		{KindCommandOnCooldown, "Cooldown"},
		{KindMaxConcurrencyReached, "Command already running"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			rule, ok := c.Classify(NewFailure(tt.kind, "x"))
			require.True(t, ok)
			assert.Equal(t, tt.title, rule.Title)
		})
	}
}

func TestClassifierMisses(t *testing.T) {
	c := NewClassifier(rules)

	for _, err := range []error{
		errors.New("database operation timed out"),
		NewFailure(KindCommandError, "x"),
		NewFailure(KindInvokeError, "x"),
		NewFailure(Kind("SomethingElse"), "x"),
	} {
		_, ok := c.Classify(err)
		assert.False(t, ok, "%v", err)
	}
}

func TestClassifierOwnsItsTable(t *testing.T) {
	table := []Rule{{Pattern: kinds(KindBadArgument), Title: "first", Message: Text("a")}}
	c := NewClassifier(table)
	table[0].Title = "changed"

	rule, ok := c.Classify(NewFailure(KindBadArgument, "x"))
	require.True(t, ok)
	assert.Equal(t, "first", rule.Title)
}

func TestRuleMessages(t *testing.T) {
	c := NewClassifier(rules)
	render := func(f *Failure) string {
		rule, ok := c.Classify(f)
		require.True(t, ok)
		return rule.Message.String(f)
	}

	assert.Equal(t, "The `amount` argument is required, please read help for more info.",
		render(MissingArgument("amount")))
	assert.Equal(t, "You're on cooldown, you can use this command again in 2 seconds.",
		render(OnCooldown(1400*time.Millisecond)))
	assert.Equal(t, "You're on cooldown, you can use this command again in 1 second.",
		render(OnCooldown(time.Second)))
	assert.Equal(t, "You are missing permissions: `manage_guild`, `manage_roles`.",
		render(MissingPerms(KindMissingPermissions, []string{"manage_guild", "manage_roles"})))
	assert.Equal(t, "I am missing permissions: .",
		render(MissingPerms(KindBotMissingPermissions, nil)))
	assert.Equal(t, "Could not find member for `@ghost`.",
		render(BadArgumentFor(KindMemberNotFound, "@ghost", "")))
	assert.Equal(t, "Could not read messages in <#123>.",
		render(BadArgumentFor(KindChannelNotReadable, "123", "")))
	assert.Equal(t, "Could not read messages in that channel.",
		render(BadArgumentFor(KindChannelNotReadable, "", "")))
}

func TestWrapInCode(t *testing.T) {
	assert.Equal(t, "`abc`", wrapInCode("abc"))
	assert.Equal(t, "`\u200b`", wrapInCode(""))
	assert.Equal(t, "`\u200b`\u200ba`\u200b`", wrapInCode("`a`"))
}

func TestFencedBlockTruncatesInsideFence(t *testing.T) {
	out := fencedBlock("0123456789abcdef```", "go", 20)
	assert.Equal(t, 20, runeLen(out))
	assert.Equal(t, "```go\n012345678…\n```", out)
}

func TestEscapeFencesBreaksEveryRun(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"a`b", "a`b"},
		{"```", "`\u200b`\u200b`"},
		{"a````b", "a`\u200b`\u200b`\u200b`b"},
		{"`````", "`\u200b`\u200b`\u200b`\u200b`"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			out := escapeFences(tt.in)
			assert.Equal(t, tt.want, out)
			assert.NotContains(t, out, "``")
		})
	}
}

func TestReportFieldKeepsUserBackticksInsideFence(t *testing.T) {
	for _, content := range []string{"d.eval ````**bold**", "d.eval `````x`````"} {
		r := BuildReport("command_error", errors.New("boom"), nil, map[string]interface{}{"message": content})
		reply := r.Reply()

		var value string
		for _, f := range reply.Fields {
			if f.Name == "message" {
				value = f.Value
			}
		}
		require.NotEmpty(t, value)
		assert.Equal(t, 2, strings.Count(value, "```"), "only the outer fences remain in %q", value)
		assert.True(t, strings.HasPrefix(value, "```\n"))
		assert.True(t, strings.HasSuffix(value, "\n```"))
	}
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `\*bold\* \_x\_ \|\|s\|\|`, escapeMarkdown("*bold* _x_ ||s||"))
}
