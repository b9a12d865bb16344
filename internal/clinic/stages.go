// Package clinic wires the ClinicPulse pipeline: the stage table, the
// rule-based generator and the system check.
package clinic

import (
	"github.com/fyrsmithlabs/clinicpulse/internal/pipeline"
	"github.com/fyrsmithlabs/clinicpulse/internal/session"
	"github.com/fyrsmithlabs/clinicpulse/internal/tools"
	"github.com/fyrsmithlabs/clinicpulse/internal/validation"
)

// Stage names.
const (
	StageIntake      = "intake"
	StageTriage      = "triage"
	StageLabs        = "labs"
	StageBriefing    = "briefing"
	StageAppointment = "appointment"
)

// Output keys.
const (
	KeyPatientIntake      = "patient_intake"
	KeyTriagePriority     = "triage_priority"
	KeyLabResults         = "lab_results"
	KeyClinicianBriefing  = "clinician_briefing"
	KeyAppointmentDetails = "appointment_details"
)

// FinalOutputKey is surfaced when the pipeline completes.
const FinalOutputKey = KeyClinicianBriefing

// Priority levels accepted by triage.
const (
	PriorityCritical = "Critical"
	PriorityUrgent   = "Urgent"
	PriorityRoutine  = "Routine"
)

// CriticStages run on the critic model when an LLM generates.
var CriticStages = []string{StageTriage, StageBriefing}

const intakeInstructions = `You are the front-desk intake assistant. Ask clarifying questions until you have:
- patient_id
- primary symptoms
- symptom duration
- relevant medical history (if volunteered)
Output an object with patient_id, symptoms and duration, plus name and history when known.
Merge with any earlier patient_intake value instead of discarding it.`

const triageInstructions = `You are a clinical triage nurse. Review patient_intake and assign a priority.
Call fetch_patient_records for history, then call record_triage_decision to log the decision.
Output an object with patient_id, priority_level (Critical | Urgent | Routine), rationale,
recommended_next_steps, specialty (general, cardiology, pediatrics, orthopedics or dermatology)
and labs_pending (true when lab work or imaging results are still outstanding).`

const labsInstructions = `Lab work or imaging is outstanding. If the user has not supplied results,
call wait_for_lab_results and set pause to true. When results are supplied, output an object
with patient_id, lab_summary and timestamp (if provided).`

const briefingInstructions = `Combine patient_intake, triage_priority, lab_results and patient_records into a
concise Markdown briefing with the sections Overview, Vitals/History, Risk Flags and Next Steps.
Highlight missing information and propose clarifying questions for the clinician.
Output the Markdown as a string.`

const appointmentInstructions = `You are the appointment coordinator.
1. Take patient_id from patient_intake; use "UNKNOWN" if it is missing.
2. Take the urgency from triage_priority.priority_level and the specialty from triage_priority.specialty (default general).
3. Call check_doctor_availability, choose the earliest slot, then call book_appointment.
4. Call send_appointment_confirmation with the booking.
Output an object with patient_id, appointment_id, doctor, datetime, specialty, urgency_level and confirmation_sent.`

// LabsTriggered holds when triage flagged pending labs or the lab wait
// tool has been called.
func LabsTriggered(s session.Snapshot) bool {
	if s.Has(tools.KeyLabStatus) {
		return true
	}
	v, ok := s.Get(KeyTriagePriority)
	if !ok {
		return false
	}
	pending, _ := v.Field("labs_pending")
	return pending == true
}

// Stages returns the ClinicPulse stage table in pipeline order.
func Stages() []pipeline.Definition {
	return []pipeline.Definition{
		{
			Name:      StageIntake,
			OutputKey: KeyPatientIntake,
			Requirements: validation.Requirements{
				Fields: []string{"patient_id", "symptoms", "duration"},
				Keywords: map[string][]string{
					"symptoms": {"symptom"},
					"duration": {"duration"},
				},
			},
			MaxIterations: 3,
			Instructions:  intakeInstructions,
			Silent:        true,
			Fallthrough:   pipeline.StrictAbort,
			Cue:           "[Intake complete]",
		},
		{
			Name:      StageTriage,
			OutputKey: KeyTriagePriority,
			Requirements: validation.Requirements{
				Fields: []string{"priority_level"},
				Keywords: map[string][]string{
					"priority_level": {"critical", "urgent", "routine"},
				},
			},
			MaxIterations: 3,
			Instructions:  triageInstructions,
			Silent:        true,
			Fallthrough:   pipeline.SoftContinue,
			Cue:           "[Triage recorded]",
			Tools:         true,
		},
		{
			Name:      StageLabs,
			OutputKey: KeyLabResults,
			Requirements: validation.Requirements{
				Fields: []string{"patient_id", "lab_summary"},
				Keywords: map[string][]string{
					"lab_summary": {"lab", "result"},
				},
			},
			MaxIterations: 5,
			Trigger:       LabsTriggered,
			Instructions:  labsInstructions,
			Silent:        true,
			Fallthrough:   pipeline.SoftContinue,
			Pausable:      true,
			Cue:           "[Lab results received]",
			Tools:         true,
		},
		{
			Name:      StageBriefing,
			OutputKey: KeyClinicianBriefing,
			Requirements: validation.Requirements{
				Fields: []string{"overview", "vitals", "risk_flags", "next_steps"},
				Keywords: map[string][]string{
					"overview":   {"overview"},
					"vitals":     {"vital", "history"},
					"risk_flags": {"risk"},
					"next_steps": {"next step"},
				},
			},
			MaxIterations: 1,
			Instructions:  briefingInstructions,
			Silent:        true,
			Fallthrough:   pipeline.SoftContinue,
			Cue:           "[Briefing ready]",
			Tools:         true,
		},
		{
			Name:      StageAppointment,
			OutputKey: KeyAppointmentDetails,
			Requirements: validation.Requirements{
				Fields: []string{"patient_id", "appointment_id", "doctor", "datetime"},
			},
			MaxIterations: 3,
			Instructions:  appointmentInstructions,
			Silent:        true,
			Fallthrough:   pipeline.SoftContinue,
			Cue:           "[Appointment booked]",
			Tools:         true,
		},
	}
}
