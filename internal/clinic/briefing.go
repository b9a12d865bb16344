package clinic

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/clinicpulse/internal/briefing"
	"github.com/fyrsmithlabs/clinicpulse/internal/generation"
	"github.com/fyrsmithlabs/clinicpulse/internal/logging"
	"github.com/fyrsmithlabs/clinicpulse/internal/session"
)

type briefingInput struct {
	PatientID string
	Name      string
	Symptoms  string
	Duration  string
	History   string
	Priority  string
	Rationale string
	NextSteps string
	Specialty string
	Records   session.Value
	Labs      string
}

func renderBriefing(in briefingInput) string {
	var b strings.Builder
	who := orDefault(in.PatientID, "unidentified patient")
	if in.Name != "" {
		who = in.Name + " (" + who + ")"
	}
	fmt.Fprintf(&b, "# Clinician Briefing: %s\n\n", who)

	b.WriteString("## Overview\n")
	fmt.Fprintf(&b, "Presenting symptoms: %s, for %s. Triage priority: %s",
		orDefault(in.Symptoms, "not recorded"),
		orDefault(in.Duration, "an unknown duration"),
		orDefault(in.Priority, "not assigned"))
	if in.Rationale != "" {
		fmt.Fprintf(&b, " (%s)", in.Rationale)
	}
	b.WriteString(".\n\n")

	b.WriteString("## Vitals/History\n")
	if in.Records.IsStructured() {
		fmt.Fprintf(&b, "- Last visit: %s\n", orDefault(in.Records.StringField("last_visit"), "unknown"))
		fmt.Fprintf(&b, "- Known conditions: %s\n", orDefault(in.Records.StringField("known_conditions"), "none recorded"))
		if vitals, ok := in.Records.Field("recent_vitals"); ok {
			if m, ok := vitals.(map[string]any); ok {
				fmt.Fprintf(&b, "- Recent vitals: BP %v, HR %v, Temp %v °C\n", m["bp"], m["hr"], m["temp_c"])
			}
		}
	} else {
		b.WriteString("- No records on file; take vitals at check-in.\n")
	}
	if in.History != "" {
		fmt.Fprintf(&b, "- Reported history: %s\n", in.History)
	}
	if in.Labs != "" {
		fmt.Fprintf(&b, "- Lab results: %s\n", in.Labs)
	}
	b.WriteString("\n")

	b.WriteString("## Risk Flags\n")
	switch in.Priority {
	case PriorityCritical:
		b.WriteString("- Red flag: escalate immediately to the on-call physician.\n")
	case PriorityUrgent:
		b.WriteString("- Warning: urgent review advised; watch for worsening symptoms.\n")
	default:
		b.WriteString("- No red flags identified at intake.\n")
	}
	if cond := in.Records.StringField("known_conditions"); cond != "" && cond != "none" {
		fmt.Fprintf(&b, "- Comorbidity risk: %s.\n", cond)
	}
	b.WriteString("\n")

	b.WriteString("## Next Steps\n")
	fmt.Fprintf(&b, "1. %s.\n", orDefault(in.NextSteps, "Clinician review"))
	fmt.Fprintf(&b, "2. Follow up with %s.\n", orDefault(in.Specialty, "general")+" care")
	b.WriteString("\n")

	b.WriteString("## Open Questions\n")
	b.WriteString("- Current medications and allergies?\n")
	if in.History == "" {
		b.WriteString("- Relevant medical history not volunteered; confirm with the patient.\n")
	}
	return b.String()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// scoredGenerator logs rubric scores for every briefing produced by the
// wrapped generator.
type scoredGenerator struct {
	next   generation.Generator
	logger *logging.Logger
}

func (g *scoredGenerator) Generate(ctx context.Context, req generation.Request) (generation.Response, error) {
	resp, err := g.next.Generate(ctx, req)
	if err != nil || req.Stage != StageBriefing || resp.Value == nil {
		return resp, err
	}
	text := resp.Value.Text
	if resp.Value.IsStructured() {
		text = resp.Value.String()
	}
	s := briefing.Evaluate(text)
	g.logger.Step(ctx, StageBriefing, "briefing scored",
		zap.Int("structure_clarity", s.StructureClarity),
		zap.Int("clinical_completeness", s.ClinicalCompleteness),
		zap.Int("safety_awareness", s.SafetyAwareness),
		zap.Int("total", s.Total),
	)
	return resp, nil
}
