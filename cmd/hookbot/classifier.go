// cmd/hookbot/classifier.go
package main

// Classifier maps failures to the first matching rule of an ordered table.
// The table is never mutated after construction, so a Classifier is safe
// for concurrent use.
type Classifier struct {
	rules []Rule
}

// NewClassifier creates a classifier over a private copy of table
func NewClassifier(table []Rule) *Classifier {
	return &Classifier{rules: append([]Rule(nil), table...)}
}

// Classify returns the first rule whose pattern matches the kind of the
// first *Failure in err's chain. Errors that carry no failure never match.
func (c *Classifier) Classify(err error) (Rule, bool) {
	kind := KindOf(err)
	if kind == "" {
		return Rule{}, false
	}
	for _, r := range c.rules {
		if r.Matches(kind) {
			return r, true
		}
	}
	return Rule{}, false
}
