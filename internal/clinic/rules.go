package clinic

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/fyrsmithlabs/clinicpulse/internal/generation"
	"github.com/fyrsmithlabs/clinicpulse/internal/pipeline"
	"github.com/fyrsmithlabs/clinicpulse/internal/session"
	"github.com/fyrsmithlabs/clinicpulse/internal/tools"
)

var (
	patientIDPattern = regexp.MustCompile(`(?i)\bP-?\d+\b`)
	namePattern      = regexp.MustCompile(`\b[Pp]atient\s+(?:[A-Za-z]-?\d+\s+)?([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)\b`)
	durationPattern  = regexp.MustCompile(`(?i)\b(\d+|a|an|one|two|three|four|five|a few|few|several)\s+(hour|day|week|month|year)s?\b|\bsince (yesterday|last night|this morning|last week)\b`)
)

// symptomTerms are matched in order; the first listed wins in summaries.
var symptomTerms = []string{
	"chest pain", "shortness of breath", "difficulty breathing", "cough", "fever",
	"headache", "nausea", "vomiting", "dizziness", "rash", "fatigue", "sore throat",
	"abdominal pain", "back pain", "joint pain", "palpitations", "bleeding", "swelling",
	"seizure", "fracture",
}

var (
	criticalTerms = []string{"chest pain", "difficulty breathing", "unconscious", "seizure", "severe bleeding", "stroke"}
	urgentTerms   = []string{"shortness of breath", "fever", "vomiting", "abdominal pain", "dizziness", "palpitations", "bleeding", "fracture"}
	labTerms      = []string{"lab", "x-ray", "xray", "blood work", "bloodwork", "imaging", "scan", "biopsy", "culture"}
	pendingTerms  = []string{"pending", "ordered", "waiting", "not back", "awaiting"}
	resultTerms   = []string{"result", "came back", "shows", "showed", "normal", "clear", "negative", "positive"}
)

var specialtyTerms = []struct {
	specialty string
	terms     []string
}{
	{"cardiology", []string{"chest pain", "palpitations", "heart"}},
	{"pediatrics", []string{"child", "infant", "toddler", "baby"}},
	{"orthopedics", []string{"back pain", "joint pain", "fracture", "sprain"}},
	{"dermatology", []string{"rash", "skin", "itch"}},
}

// RuleGenerator produces stage output from keyword rules over the
// conversation. It is deterministic for a given clock and tool set.
type RuleGenerator struct {
	now func() time.Time
}

var _ generation.Generator = (*RuleGenerator)(nil)

// NewRuleGenerator returns a generator using now for timestamps. A nil
// clock uses time.Now.
func NewRuleGenerator(now func() time.Time) *RuleGenerator {
	if now == nil {
		now = time.Now
	}
	return &RuleGenerator{now: now}
}

// Generate dispatches on the stage name.
func (g *RuleGenerator) Generate(ctx context.Context, req generation.Request) (generation.Response, error) {
	switch req.Stage {
	case StageIntake:
		return g.intake(req), nil
	case StageTriage:
		return g.triage(ctx, req), nil
	case StageLabs:
		return g.labs(ctx, req), nil
	case StageBriefing:
		return g.briefing(ctx, req), nil
	case StageAppointment:
		return g.appointment(ctx, req)
	case pipeline.CoordinatorStage:
		return generation.Response{}, nil
	}
	return generation.Response{}, fmt.Errorf("%w: %s", generation.ErrNoGenerator, req.Stage)
}

func (g *RuleGenerator) intake(req generation.Request) generation.Response {
	fields := map[string]any{}
	if prev, ok := req.State.Get(KeyPatientIntake); ok && prev.IsStructured() {
		for k, v := range prev.Fields {
			fields[k] = v
		}
	}

	msg := req.Message
	if _, ok := fields["patient_id"]; !ok {
		if id := patientIDPattern.FindString(msg); id != "" {
			fields["patient_id"] = strings.ToUpper(id)
		}
	}
	if _, ok := fields["name"]; !ok {
		if m := namePattern.FindStringSubmatch(msg); m != nil {
			fields["name"] = m[1]
		}
	}
	if found := matchAll(msg, symptomTerms); len(found) > 0 {
		prev, _ := fields["symptoms"].(string)
		fields["symptoms"] = mergeList(prev, found)
	}
	if _, ok := fields["duration"]; !ok {
		if d := durationPattern.FindString(msg); d != "" {
			fields["duration"] = strings.ToLower(d)
		}
	}
	if h := historyMention(msg); h != "" {
		fields["history"] = h
	}

	if len(fields) == 0 {
		return generation.Response{Reply: "Welcome to the clinic. What is the patient ID, and what symptoms brought you in?"}
	}

	var missing []string
	for _, f := range []string{"patient_id", "symptoms", "duration"} {
		if _, ok := fields[f]; !ok {
			missing = append(missing, strings.ReplaceAll(f, "_", " "))
		}
	}
	resp := generation.Structured(fields)
	if len(missing) > 0 {
		resp.Reply = "Thanks. Could you also share the " + strings.Join(missing, " and ") + "?"
	} else {
		resp.Reply = "Thank you, intake notes are complete."
	}
	return resp
}

func (g *RuleGenerator) triage(ctx context.Context, req generation.Request) generation.Response {
	intake, _ := req.State.Get(KeyPatientIntake)
	patientID := intake.StringField("patient_id")
	symptoms := intake.StringField("symptoms")
	text := strings.ToLower(symptoms + " " + intake.StringField("history") + " " + req.Message)

	priority, rationale := PriorityRoutine, "no urgent findings at intake"
	if hit := firstMatch(text, criticalTerms); hit != "" {
		priority, rationale = PriorityCritical, "reported "+hit
	} else if hit := firstMatch(text, urgentTerms); hit != "" {
		priority, rationale = PriorityUrgent, "reported "+hit
	}

	specialty := "general"
	for _, s := range specialtyTerms {
		if firstMatch(text, s.terms) != "" {
			specialty = s.specialty
			break
		}
	}

	labsPending := firstMatch(text, labTerms) != ""

	if req.Tools != nil && patientID != "" {
		req.Tools.Call(ctx, tools.FetchPatientRecords, map[string]any{"patient_id": patientID})
		req.Tools.Call(ctx, tools.RecordTriageDecision, map[string]any{
			"patient_id":     patientID,
			"priority_level": priority,
		})
	}

	resp := generation.Structured(map[string]any{
		"patient_id":             patientID,
		"priority_level":         priority,
		"rationale":              rationale,
		"recommended_next_steps": nextSteps(priority, specialty, labsPending),
		"specialty":              specialty,
		"labs_pending":           labsPending,
	})
	resp.Reply = fmt.Sprintf("Triage priority: %s (%s).", priority, rationale)
	return resp
}

func (g *RuleGenerator) labs(ctx context.Context, req generation.Request) generation.Response {
	intake, _ := req.State.Get(KeyPatientIntake)
	patientID := intake.StringField("patient_id")
	lower := strings.ToLower(req.Message)

	if firstMatch(lower, pendingTerms) != "" || firstMatch(lower, resultTerms) == "" {
		if req.Tools != nil && patientID != "" {
			req.Tools.Call(ctx, tools.WaitForLabResults, map[string]any{"patient_id": patientID})
		}
		return generation.Response{
			Pause: true,
			Reply: "I'll hold here until the lab results are available. Please share them when they arrive.",
		}
	}

	resp := generation.Structured(map[string]any{
		"patient_id":  patientID,
		"lab_summary": strings.TrimSpace(req.Message),
		"timestamp":   g.now().UTC().Format(time.RFC3339),
	})
	resp.Reply = "Lab results recorded."
	return resp
}

func (g *RuleGenerator) briefing(ctx context.Context, req generation.Request) generation.Response {
	intake, _ := req.State.Get(KeyPatientIntake)
	triage, _ := req.State.Get(KeyTriagePriority)
	patientID := intake.StringField("patient_id")

	records, ok := req.State.Get(tools.KeyPatientRecords)
	if !ok && req.Tools != nil && patientID != "" {
		if res := req.Tools.Call(ctx, tools.FetchPatientRecords, map[string]any{"patient_id": patientID}); res.OK {
			records = session.Structured(res.Output)
		}
	}

	var labs string
	if v, ok := req.State.Get(KeyLabResults); ok {
		labs = v.StringField("lab_summary")
		if !v.IsStructured() {
			labs = v.Text
		}
	}

	text := renderBriefing(briefingInput{
		PatientID: patientID,
		Name:      intake.StringField("name"),
		Symptoms:  intake.StringField("symptoms"),
		Duration:  intake.StringField("duration"),
		History:   intake.StringField("history"),
		Priority:  triage.StringField("priority_level"),
		Rationale: triage.StringField("rationale"),
		NextSteps: triage.StringField("recommended_next_steps"),
		Specialty: triage.StringField("specialty"),
		Records:   records,
		Labs:      labs,
	})
	return generation.FreeText(text)
}

func (g *RuleGenerator) appointment(ctx context.Context, req generation.Request) (generation.Response, error) {
	if req.Tools == nil {
		return generation.Response{}, fmt.Errorf("%w: appointment booking needs tools", tools.ErrToolInvocation)
	}

	intake, _ := req.State.Get(KeyPatientIntake)
	triage, _ := req.State.Get(KeyTriagePriority)

	patientID := intake.StringField("patient_id")
	if patientID == "" {
		patientID = "UNKNOWN"
	}
	urgency := strings.ToLower(triage.StringField("priority_level"))
	if urgency == "" {
		urgency = "routine"
	}
	specialty := triage.StringField("specialty")
	if specialty == "" {
		specialty = "general"
	}

	avail := req.Tools.Call(ctx, tools.CheckDoctorAvailability, map[string]any{
		"specialty":     specialty,
		"urgency_level": urgency,
	})
	if !avail.OK {
		return generation.Response{ToolCalls: []tools.Result{avail}}, avail.Err
	}
	slot, ok := firstSlot(avail.Output)
	if !ok {
		return generation.Response{ToolCalls: []tools.Result{avail}}, fmt.Errorf("%w: no available slots", tools.ErrToolInvocation)
	}

	booking := req.Tools.Call(ctx, tools.BookAppointment, map[string]any{
		"patient_id":           patientID,
		"doctor_name":          slot["doctor"],
		"appointment_datetime": slot["datetime"],
	})
	calls := []tools.Result{avail, booking}
	if !booking.OK {
		return generation.Response{ToolCalls: calls}, booking.Err
	}

	confirm := req.Tools.Call(ctx, tools.SendAppointmentConfirmation, map[string]any{
		"patient_id":          patientID,
		"appointment_details": booking.Output,
	})
	calls = append(calls, confirm)

	resp := generation.Structured(map[string]any{
		"patient_id":        patientID,
		"appointment_id":    booking.Output["appointment_id"],
		"doctor":            booking.Output["doctor"],
		"datetime":          booking.Output["datetime"],
		"specialty":         specialty,
		"urgency_level":     urgency,
		"confirmation_sent": confirm.OK,
	})
	resp.ToolCalls = calls
	resp.Reply = fmt.Sprintf("Booked %v with %v on %v.", booking.Output["appointment_id"], booking.Output["doctor"], booking.Output["datetime"])
	return resp, nil
}

func firstSlot(out map[string]any) (map[string]any, bool) {
	switch slots := out["available_slots"].(type) {
	case []any:
		for _, s := range slots {
			if m, ok := s.(map[string]any); ok {
				return m, true
			}
		}
	case []map[string]any:
		if len(slots) > 0 {
			return slots[0], true
		}
	}
	return nil, false
}

func nextSteps(priority, specialty string, labsPending bool) string {
	var steps string
	switch priority {
	case PriorityCritical:
		steps = "Immediate clinician review; escalate to on-call physician"
	case PriorityUrgent:
		steps = "Same-week " + specialty + " appointment; monitor for worsening symptoms"
	default:
		steps = "Routine " + specialty + " appointment"
	}
	if labsPending {
		steps += "; review outstanding lab results"
	}
	return steps
}

func historyMention(msg string) string {
	lower := strings.ToLower(msg)
	for _, marker := range []string{"history of ", "diagnosed with ", "takes ", "taking "} {
		if i := strings.Index(lower, marker); i >= 0 {
			rest := msg[i:]
			if j := strings.IndexAny(rest, ".;\n"); j >= 0 {
				rest = rest[:j]
			}
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

func matchAll(text string, terms []string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, t := range terms {
		if strings.Contains(lower, t) {
			found = append(found, t)
		}
	}
	return found
}

func firstMatch(lower string, terms []string) string {
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return t
		}
	}
	return ""
}

// mergeList appends new items to a comma-separated list, skipping
// duplicates.
func mergeList(existing string, items []string) string {
	var out []string
	seen := map[string]bool{}
	for _, s := range strings.Split(existing, ",") {
		if s = strings.TrimSpace(s); s != "" && !seen[s] {
			out = append(out, s)
			seen[s] = true
		}
	}
	for _, s := range items {
		if !seen[s] {
			out = append(out, s)
			seen[s] = true
		}
	}
	return strings.Join(out, ", ")
}
