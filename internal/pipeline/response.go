package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/clinicpulse/internal/session"
)

// compose builds the tick response. Silent stages hide their replies;
// cues and status lines always show.
func (o *Orchestrator) compose(coordinatorReply string, res *TickResult, sess *session.Session) string {
	var parts []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}

	add(coordinatorReply)
	noted := make(map[string]bool)
	for _, out := range res.Steps {
		def := o.stages[o.index[out.Stage]]
		if !def.Silent {
			add(out.Reply)
		}
		switch out.Status {
		case session.StatusEscalated:
			add(def.Cue)
		case session.StatusExhausted:
			add(fmt.Sprintf("[%s incomplete] %s", def.Name, out.Diagnostic))
			noted[def.Name] = true
		case session.StatusPaused:
			add(fmt.Sprintf("Waiting for external input (%s).", def.Name))
		case session.StatusRunning:
			add(stillMissing(def, out))
		}
	}

	if res.Aborted {
		run := sess.Run(res.AbortedStage)
		add(fmt.Sprintf("Stage %s is incomplete (%s); the workflow cannot continue.", res.AbortedStage, run.Diagnostic))
	}
	if res.Complete {
		// Stages that exhausted on an earlier tick are reported on every
		// completed response.
		for _, name := range res.Exhausted {
			if !noted[name] {
				add(fmt.Sprintf("[%s incomplete] %s", name, sess.Run(name).Diagnostic))
			}
		}
		if res.FinalOutput != nil {
			if res.FinalOutputIncomplete {
				add("The final output below is incomplete and did not pass validation.")
			}
			add(Render(*res.FinalOutput))
		} else {
			add("Workflow complete.")
		}
	}
	return strings.Join(parts, "\n\n")
}

func stillMissing(def Definition, out Outcome) string {
	if out.Failed() {
		return fmt.Sprintf("Still working on %s: %s", def.Name, out.Diagnostic)
	}
	if len(out.Validation.Missing) > 0 {
		return fmt.Sprintf("Still missing for %s: %s", def.Name, strings.Join(out.Validation.Missing, ", "))
	}
	return fmt.Sprintf("Still missing for %s: %s", def.Name, out.Diagnostic)
}

// Render formats a state value for a reply. Free text is returned as is;
// structured values become a sorted Markdown list.
func Render(v session.Value) string {
	if !v.IsStructured() {
		return v.Text
	}
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- **%s**: %s\n", k, renderField(v.Fields[k]))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderField(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "-"
	case map[string]any, []any:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}
