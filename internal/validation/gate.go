// Package validation decides whether a stage's stored output is complete
// enough to escalate.
//
// The gate is pure: the same value and requirements always produce the same
// Result, and nothing is ever raised. Incomplete output is reported through
// Result.Reason (ErrMissingState or ErrMalformedState) rather than an error
// return.
package validation

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/clinicpulse/internal/session"
)

// Soft validation failures. Neither is fatal; the retry loop tries again.
var (
	ErrMissingState   = errors.New("state missing")
	ErrMalformedState = errors.New("state malformed")
)

// DiagnosticMissing is reported when the output key is absent.
const DiagnosticMissing = "missing"

// Requirements describes what complete output looks like for one stage.
type Requirements struct {
	// Fields must all be present as keys of a structured value.
	Fields []string `json:"fields" yaml:"fields"`

	// Keywords maps a field to the words that satisfy it inside free text.
	// Free text escalates only when every non-empty set has a
	// case-insensitive substring match. Without any set, free text never
	// escalates.
	Keywords map[string][]string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}

// Result is the outcome of one gate check. It is computed on demand and
// never stored.
type Result struct {
	Escalate   bool     `json:"escalate"`
	Diagnostic string   `json:"diagnostic"`
	Missing    []string `json:"missing,omitempty"`
	Reason     error    `json:"-"`
}

// Getter is satisfied by session.State and session.Snapshot.
type Getter interface {
	Get(key string) (session.Value, bool)
}

// Validate checks the value stored under key.
func Validate(state Getter, key string, req Requirements) Result {
	v, ok := state.Get(key)
	return req.Check(v, ok)
}

// Check runs the gate against a value that may be absent.
func (r Requirements) Check(v session.Value, present bool) Result {
	if !present {
		return Result{Diagnostic: DiagnosticMissing, Missing: append([]string(nil), r.Fields...), Reason: ErrMissingState}
	}
	if v.IsStructured() {
		return r.checkStructured(v)
	}
	return r.checkFreeText(v.Text)
}

// checkStructured escalates exactly when Fields is a subset of the keys.
func (r Requirements) checkStructured(v session.Value) Result {
	var missing []string
	for _, f := range r.Fields {
		if _, ok := v.Fields[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 {
		return Result{Escalate: true, Diagnostic: "complete"}
	}
	return Result{
		Diagnostic: "missing: " + strings.Join(missing, ", "),
		Missing:    missing,
		Reason:     ErrMalformedState,
	}
}

func (r Requirements) checkFreeText(text string) Result {
	fields := r.keywordFields()
	if len(fields) == 0 {
		return Result{
			Diagnostic: "free text not accepted; structured output required",
			Missing:    append([]string(nil), r.Fields...),
			Reason:     ErrMalformedState,
		}
	}

	lower := strings.ToLower(text)
	var missing []string
	for _, f := range fields {
		if !containsAny(lower, r.Keywords[f]) {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 {
		return Result{Escalate: true, Diagnostic: "complete"}
	}
	return Result{
		Diagnostic: fmt.Sprintf("missing in text: %s", strings.Join(missing, ", ")),
		Missing:    missing,
		Reason:     ErrMalformedState,
	}
}

// keywordFields lists fields with a non-empty keyword set, in Fields order
// followed by any extra keyword-only fields sorted by name.
func (r Requirements) keywordFields() []string {
	seen := make(map[string]bool, len(r.Keywords))
	var out []string
	for _, f := range r.Fields {
		if len(r.Keywords[f]) > 0 && !seen[f] {
			out = append(out, f)
			seen[f] = true
		}
	}
	var extra []string
	for f, kws := range r.Keywords {
		if len(kws) > 0 && !seen[f] {
			extra = append(extra, f)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func containsAny(lowerText string, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lowerText, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Describe renders the requirements for prompts and diagnostics.
func (r Requirements) Describe() string {
	if len(r.Fields) == 0 {
		return "no required fields"
	}
	return "required fields: " + strings.Join(r.Fields, ", ")
}
