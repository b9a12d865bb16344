package clinic

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/clinicpulse/internal/session"
	"github.com/fyrsmithlabs/clinicpulse/internal/tools"
)

// CheckResult is one line of the system check.
type CheckResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

// Report is the outcome of Check.
type Report struct {
	Results []CheckResult `json:"results"`
}

// OK reports whether every check passed.
func (r Report) OK() bool {
	for _, c := range r.Results {
		if !c.OK {
			return false
		}
	}
	return true
}

// Failed returns the failing checks.
func (r Report) Failed() []CheckResult {
	var out []CheckResult
	for _, c := range r.Results {
		if !c.OK {
			out = append(out, c)
		}
	}
	return out
}

func (r *Report) add(name string, ok bool, format string, args ...any) {
	r.Results = append(r.Results, CheckResult{Name: name, OK: ok, Detail: fmt.Sprintf(format, args...)})
}

var expectedTools = []string{
	tools.FetchPatientRecords,
	tools.RecordTriageDecision,
	tools.WaitForLabResults,
	tools.CheckDoctorAvailability,
	tools.BookAppointment,
	tools.SendAppointmentConfirmation,
}

// Check verifies the wired pipeline: stage layout, tool registration,
// the final output key, gate sanity cases and one smoke call per tool.
// It never touches stored sessions.
func Check(ctx context.Context, app *App) Report {
	var r Report

	stages := app.Pipeline.Stages()
	names := make([]string, len(stages))
	for i, d := range stages {
		names[i] = d.Name
	}
	want := []string{StageIntake, StageTriage, StageLabs, StageBriefing, StageAppointment}
	r.add("stages", strings.Join(names, ",") == strings.Join(want, ","),
		"%d stages: %s", len(names), strings.Join(names, " -> "))

	var missing []string
	for _, name := range expectedTools {
		if _, ok := app.Tools.Get(name); !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		r.add("tools", true, "%d tools registered", len(expectedTools))
	} else {
		r.add("tools", false, "missing tools: %s", strings.Join(missing, ", "))
	}

	key := app.Pipeline.FinalOutputKey()
	r.add("final output", key == FinalOutputKey, "final output key %q", key)

	byName := make(map[string]int, len(stages))
	for i, d := range stages {
		byName[d.Name] = i
	}
	for _, tc := range gateCases() {
		i, ok := byName[tc.stage]
		if !ok {
			r.add("gate "+tc.name, false, "stage %s not configured", tc.stage)
			continue
		}
		res := stages[i].Requirements.Check(tc.value, true)
		r.add("gate "+tc.name, res.Escalate == tc.escalate, "escalate=%t (%s)", res.Escalate, res.Diagnostic)
	}

	for _, tc := range toolSmokeCases() {
		res := app.Tools.Invoke(ctx, tc.tool, tc.args)
		detail := "ok"
		if !res.OK {
			detail = res.Error
		}
		r.add("tool "+tc.tool, res.OK, "%s", detail)
	}
	return r
}

type gateCase struct {
	name     string
	stage    string
	value    session.Value
	escalate bool
}

func gateCases() []gateCase {
	return []gateCase{
		{
			name:     "intake complete",
			stage:    StageIntake,
			value:    session.Structured(map[string]any{"patient_id": "P-1", "symptoms": "cough", "duration": "2 days"}),
			escalate: true,
		},
		{
			name:     "intake missing duration",
			stage:    StageIntake,
			value:    session.Structured(map[string]any{"patient_id": "P-1", "symptoms": "cough"}),
			escalate: false,
		},
		{
			name:     "triage priority",
			stage:    StageTriage,
			value:    session.Structured(map[string]any{"priority_level": PriorityRoutine}),
			escalate: true,
		},
		{
			name:     "briefing sections",
			stage:    StageBriefing,
			value:    session.FreeText("## Overview\n## Vitals/History\n## Risk Flags\n## Next Steps\n"),
			escalate: true,
		},
		{
			name:     "briefing without risks",
			stage:    StageBriefing,
			value:    session.FreeText("## Overview\n## Next Steps\n"),
			escalate: false,
		},
	}
}

type toolCase struct {
	tool string
	args map[string]any
}

func toolSmokeCases() []toolCase {
	booking := map[string]any{"appointment_id": "APT-CHECK", "doctor": "Dr. Smith", "datetime": "2025-01-01 09:00"}
	return []toolCase{
		{tools.FetchPatientRecords, map[string]any{"patient_id": "P-CHECK"}},
		{tools.RecordTriageDecision, map[string]any{"patient_id": "P-CHECK", "priority_level": PriorityRoutine}},
		{tools.WaitForLabResults, map[string]any{"patient_id": "P-CHECK"}},
		{tools.CheckDoctorAvailability, map[string]any{"specialty": "general", "urgency_level": "routine"}},
		{tools.BookAppointment, map[string]any{"patient_id": "P-CHECK", "doctor_name": "Dr. Smith", "appointment_datetime": "2025-01-01 09:00"}},
		{tools.SendAppointmentConfirmation, map[string]any{"patient_id": "P-CHECK", "appointment_details": booking}},
	}
}
