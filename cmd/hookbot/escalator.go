// cmd/hookbot/escalator.go
package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// OwnerResolver looks up the user id of the bot's maintainer
type OwnerResolver func(ctx context.Context) (string, error)

// NamedValue is one rendered keyword context value
type NamedValue struct {
	Name  string
	Value string
}

// DiagnosticReport is everything the maintainer needs to debug an
// unclassified failure. It is sent once and never stored.
type DiagnosticReport struct {
	IncidentID string
	EventName  string
	Trace      string
	Positional []string
	Named      []NamedValue
}

// BuildReport renders err and the supplied context values. Named values
// are sorted by name so reports are stable.
func BuildReport(event string, err error, args []interface{}, named map[string]interface{}) DiagnosticReport {
	r := DiagnosticReport{
		IncidentID: uuid.NewString(),
		EventName:  event,
		Trace:      renderTrace(err),
	}
	for _, a := range args {
		r.Positional = append(r.Positional, renderValue(a))
	}
	names := make([]string, 0, len(named))
	for k := range named {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		r.Named = append(r.Named, NamedValue{Name: k, Value: renderValue(named[k])})
	}
	return r
}

// stackTracer is implemented by errors that carry the stack they were
// raised from.
type stackTracer interface {
	StackTrace() string
}

// renderTrace renders every link of err's chain, outermost first, with
// the stack of each link that recorded one.
func renderTrace(err error) string {
	if err == nil {
		return "<nil>"
	}

	var b strings.Builder
	for i, e := 0, err; e != nil; i, e = i+1, errors.Unwrap(e) {
		if i > 0 {
			b.WriteString("\n\nCaused by:\n")
		}
		fmt.Fprintf(&b, "%T: %s", e, e.Error())
		if st, ok := e.(stackTracer); ok && st.StackTrace() != "" {
			b.WriteString("\n")
			b.WriteString(st.StackTrace())
		}
	}
	return b.String()
}

func renderValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return fmt.Sprintf("%q", x)
	case error:
		return fmt.Sprintf("%T: %s", x, x.Error())
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%+v", x)
	}
}

// panicError carries a recovered panic value and the stack it unwound
type panicError struct {
	value interface{}
	stack string
}

func (p *panicError) Error() string      { return fmt.Sprintf("panic: %v", p.value) }
func (p *panicError) StackTrace() string { return p.stack }

func (p *panicError) Unwrap() error {
	if err, ok := p.value.(error); ok {
		return err
	}
	return nil
}

// Reply lays the report out as a single embed. Every value is truncated
// before it is fenced, so code blocks always stay closed, and fields stop
// once the whole-embed budget is spent.
func (r DiagnosticReport) Reply() Reply {
	reply := Reply{
		Title:       "Unhandled error",
		Description: fencedBlock(r.Trace, "go", MaxEmbedDescription),
		Footer:      "Incident " + r.IncidentID,
	}

	fields := make([]Field, 0, 1+len(r.Positional)+len(r.Named))
	fields = append(fields, Field{Name: "Event", Value: r.EventName})
	for i, v := range r.Positional {
		fields = append(fields, Field{Name: fmt.Sprintf("args[%d]", i), Value: v})
	}
	for _, nv := range r.Named {
		fields = append(fields, Field{Name: nv.Name, Value: nv.Value})
	}

	budget := MaxEmbedTotal - runeLen(reply.Title) - runeLen(reply.Description) - runeLen(reply.Footer)
	for _, f := range fields {
		if len(reply.Fields) == MaxEmbedFields {
			break
		}
		name := truncate(f.Name, MaxFieldName)
		limit := budget - runeLen(name)
		if limit > MaxFieldValue {
			limit = MaxFieldValue
		}
		if limit < minFieldRoom {
			break
		}
		value := fencedBlock(f.Value, "", limit)
		reply.Fields = append(reply.Fields, Field{Name: name, Value: value})
		budget -= runeLen(name) + runeLen(value)
	}
	return reply
}

func runeLen(s string) int { return len([]rune(s)) }

// minFieldRoom is the smallest field value worth sending, fences included
const minFieldRoom = 24

// Escalator delivers diagnostic reports to the maintainer. It never
// returns an error and never panics: every failure on the delivery path is
// written to the local log and dropped.
type Escalator struct {
	messenger Messenger
	owner     OwnerResolver
	log       *Logger
}

// NewEscalator creates an escalator
func NewEscalator(m Messenger, owner OwnerResolver, log *Logger) *Escalator {
	if log == nil {
		log = Log()
	}
	return &Escalator{messenger: m, owner: owner, log: log}
}

// Escalate logs the report locally and then attempts one delivery to the
// maintainer. It reports whether the delivery succeeded.
func (e *Escalator) Escalate(ctx context.Context, r DiagnosticReport) (delivered bool) {
	defer func() {
		if p := recover(); p != nil {
			e.log.Error("Panic while escalating incident %s: %v", r.IncidentID, p)
			delivered = false
		}
	}()

	e.log.Error("Unhandled error in %s (incident %s):\n%s", r.EventName, r.IncidentID, r.Trace)

	if e.owner == nil {
		e.log.Warning("No maintainer resolver configured, incident %s not delivered", r.IncidentID)
		return false
	}
	ownerID, err := e.owner(ctx)
	if err != nil {
		e.log.Error("Failed to resolve maintainer for incident %s: %v", r.IncidentID, err)
		return false
	}
	if ownerID == "" {
		e.log.Error("Maintainer lookup returned no user for incident %s", r.IncidentID)
		return false
	}

	if err := e.messenger.SendDirect(ctx, ownerID, r.Reply()); err != nil {
		e.log.Error("Failed to deliver incident %s to maintainer %s: %v", r.IncidentID, ownerID, err)
		return false
	}
	return true
}
