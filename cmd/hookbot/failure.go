// cmd/hookbot/failure.go
package main

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Kind identifies a class of command failure
type Kind string

const (
	KindCommandError Kind = "CommandError"

	// Ignorable control flow
	KindCommandNotFound Kind = "CommandNotFound"
	KindDisabledCommand Kind = "DisabledCommand"
	KindInvokeError     Kind = "CommandInvokeError"

	// User input
	KindUserInputError          Kind = "UserInputError"
	KindMissingRequiredArgument Kind = "MissingRequiredArgument"
	KindTooManyArguments        Kind = "TooManyArguments"
	KindBadArgument             Kind = "BadArgument"
	KindBadUnionArgument        Kind = "BadUnionArgument"
	KindArgumentParsingError    Kind = "ArgumentParsingError"
	KindUnexpectedQuote         Kind = "UnexpectedQuoteError"
	KindExpectedClosingQuote    Kind = "ExpectedClosingQuoteError"
	KindInvalidEndOfQuoted      Kind = "InvalidEndOfQuotedStringError"

	// Converter misses, all specialisations of BadArgument
	KindMessageNotFound        Kind = "MessageNotFound"
	KindMemberNotFound         Kind = "MemberNotFound"
	KindUserNotFound           Kind = "UserNotFound"
	KindChannelNotFound        Kind = "ChannelNotFound"
	KindChannelNotReadable     Kind = "ChannelNotReadable"
	KindRoleNotFound           Kind = "RoleNotFound"
	KindEmojiNotFound          Kind = "EmojiNotFound"
	KindPartialEmojiConversion Kind = "PartialEmojiConversionFailure"

	// Checks
	KindCheckFailure          Kind = "CheckFailure"
	KindNotOwner              Kind = "NotOwner"
	KindMissingPermissions    Kind = "MissingPermissions"
	KindBotMissingPermissions Kind = "BotMissingPermissions"
	KindPrivateMessageOnly    Kind = "PrivateMessageOnly"
	KindNoPrivateMessage      Kind = "NoPrivateMessage"

	// Rate limiting
	KindCommandOnCooldown     Kind = "CommandOnCooldown"
	KindMaxConcurrencyReached Kind = "MaxConcurrencyReached"
)

// kindParents maps each kind to the kind it specialises. Kinds missing
// from the table (including kinds raised by other packages) have no parent
// and only ever match themselves.
var kindParents = map[Kind]Kind{
	KindCommandNotFound: KindCommandError,
	KindDisabledCommand: KindCommandError,
	KindInvokeError:     KindCommandError,

	KindUserInputError:          KindCommandError,
	KindMissingRequiredArgument: KindUserInputError,
	KindTooManyArguments:        KindUserInputError,
	KindBadArgument:             KindUserInputError,
	KindBadUnionArgument:        KindUserInputError,
	KindArgumentParsingError:    KindUserInputError,
	KindUnexpectedQuote:         KindArgumentParsingError,
	KindExpectedClosingQuote:    KindArgumentParsingError,
	KindInvalidEndOfQuoted:      KindArgumentParsingError,

	KindMessageNotFound:        KindBadArgument,
	KindMemberNotFound:         KindBadArgument,
	KindUserNotFound:           KindBadArgument,
	KindChannelNotFound:        KindBadArgument,
	KindChannelNotReadable:     KindBadArgument,
	KindRoleNotFound:           KindBadArgument,
	KindEmojiNotFound:          KindBadArgument,
	KindPartialEmojiConversion: KindBadArgument,

	KindCheckFailure:          KindCommandError,
	KindNotOwner:              KindCheckFailure,
	KindMissingPermissions:    KindCheckFailure,
	KindBotMissingPermissions: KindCheckFailure,
	KindPrivateMessageOnly:    KindCheckFailure,
	KindNoPrivateMessage:      KindCheckFailure,

	KindCommandOnCooldown:     KindCommandError,
	KindMaxConcurrencyReached: KindCommandError,
}

// Is reports whether k is target or a specialisation of target.
func (k Kind) Is(target Kind) bool {
	for cur, seen := k, 0; cur != ""; cur = kindParents[cur] {
		if cur == target {
			return true
		}
		// guards against a cycle sneaking into the table
		if seen++; seen > len(kindParents) {
			return false
		}
	}
	return false
}

// Failure is the error raised by the command framework. Only the fields
// relevant to its Kind are populated.
type Failure struct {
	Kind       Kind
	Message    string
	Param      string        // missing argument name
	Argument   string        // raw argument that failed to convert
	Missing    []string      // missing permission names
	RetryAfter time.Duration // cooldown remaining

	cause error
	stack string
}

func (f *Failure) Error() string {
	if f.Message != "" {
		return f.Message
	}
	if f.cause != nil {
		return fmt.Sprintf("%s: %v", f.Kind, f.cause)
	}
	return string(f.Kind)
}

func (f *Failure) Unwrap() error { return f.cause }

// StackTrace returns the call stack captured when the failure was raised
func (f *Failure) StackTrace() string { return f.stack }

// Original returns the cause carried by a CommandInvokeError, or nil for
// every other kind.
func (f *Failure) Original() error {
	if f.Kind != KindInvokeError {
		return nil
	}
	return f.cause
}

// NewFailure creates a failure of the given kind with a captured stack
func NewFailure(kind Kind, message string) *Failure {
	return &Failure{Kind: kind, Message: message, stack: captureStack(3)}
}

// Common failure constructors

func MissingArgument(param string) *Failure {
	return &Failure{
		Kind:    KindMissingRequiredArgument,
		Message: param + " is a required argument that is missing.",
		Param:   param,
		stack:   captureStack(3),
	}
}

func BadArgumentFor(kind Kind, argument, message string) *Failure {
	return &Failure{Kind: kind, Message: message, Argument: argument, stack: captureStack(3)}
}

func MissingPerms(kind Kind, missing []string) *Failure {
	who := "You are"
	if kind == KindBotMissingPermissions {
		who = "Bot is"
	}
	return &Failure{
		Kind:    kind,
		Message: fmt.Sprintf("%s missing %s permission(s) to run this command.", who, strings.Join(missing, ", ")),
		Missing: missing,
		stack:   captureStack(3),
	}
}

func OnCooldown(retryAfter time.Duration) *Failure {
	return &Failure{
		Kind:       KindCommandOnCooldown,
		Message:    fmt.Sprintf("You are on cooldown. Try again in %.2fs", retryAfter.Seconds()),
		RetryAfter: retryAfter,
		stack:      captureStack(3),
	}
}

// InvokeError wraps an error returned by a command body
func InvokeError(original error) *Failure {
	return &Failure{
		Kind:    KindInvokeError,
		Message: fmt.Sprintf("Command raised an exception: %v", original),
		cause:   original,
		stack:   captureStack(3),
	}
}

// globalCheckPrefix marks the placeholder failure raised when the global
// check rejects an invocation without saying why.
const globalCheckPrefix = "The global check "

func GlobalCheckFailed(command string) *Failure {
	return &Failure{
		Kind:    KindCheckFailure,
		Message: fmt.Sprintf("%sfunctions for command %s failed.", globalCheckPrefix, command),
		stack:   captureStack(3),
	}
}

// AsFailure finds the first *Failure in err's chain
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// KindOf returns the kind of the first failure in err's chain, or "" when
// the chain carries none.
func KindOf(err error) Kind {
	if f, ok := AsFailure(err); ok {
		return f.Kind
	}
	return ""
}

// captureStack renders the current call stack, skipping runtime frames
func captureStack(skip int) string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(skip, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var trace []string
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			trace = append(trace, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}

	return strings.Join(trace, "\n")
}
