package validation

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/clinicpulse/internal/session"
)

var intakeReq = Requirements{
	Fields: []string{"patient_id", "symptoms", "duration"},
	Keywords: map[string][]string{
		"symptoms": {"symptom"},
		"duration": {"duration"},
	},
}

var appointmentReq = Requirements{
	Fields: []string{"patient_id", "appointment_id", "doctor", "datetime"},
}

func TestCheck_Absent(t *testing.T) {
	res := intakeReq.Check(session.Value{}, false)

	assert.False(t, res.Escalate)
	assert.Equal(t, DiagnosticMissing, res.Diagnostic)
	assert.ErrorIs(t, res.Reason, ErrMissingState)
}

func TestCheck_StructuredComplete(t *testing.T) {
	v := session.Structured(map[string]any{
		"patient_id": "P1",
		"symptoms":   "chest pain",
		"duration":   "3h",
		"extra":      true,
	})

	res := intakeReq.Check(v, true)
	assert.True(t, res.Escalate)
	assert.Empty(t, res.Missing)
	assert.NoError(t, res.Reason)
}

func TestCheck_StructuredMissingFields(t *testing.T) {
	v := session.Structured(map[string]any{"doctor": "Dr. Smith"})

	res := appointmentReq.Check(v, true)
	assert.False(t, res.Escalate)
	assert.ElementsMatch(t, []string{"patient_id", "appointment_id", "datetime"}, res.Missing)
	assert.Contains(t, res.Diagnostic, "appointment_id")
	assert.ErrorIs(t, res.Reason, ErrMalformedState)
}

func TestCheck_StructuredPresenceOnly(t *testing.T) {
	// Values are not inspected: an empty or unexpected value still counts.
	v := session.Structured(map[string]any{"priority_level": ""})

	res := Requirements{Fields: []string{"priority_level"}}.Check(v, true)
	assert.True(t, res.Escalate)
}

func TestCheck_StructuredIsExactlySubset(t *testing.T) {
	universe := []string{"a", "b", "c", "d", "e"}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		var required []string
		fields := map[string]any{}
		for _, k := range universe {
			if rng.Intn(2) == 0 {
				required = append(required, k)
			}
			if rng.Intn(2) == 0 {
				fields[k] = k
			}
		}

		subset := true
		for _, k := range required {
			if _, ok := fields[k]; !ok {
				subset = false
			}
		}

		res := Requirements{Fields: required}.Check(session.Structured(fields), true)
		require.Equal(t, subset, res.Escalate, "required=%v fields=%v", required, fields)
	}
}

func TestCheck_FreeTextAllKeywords(t *testing.T) {
	res := intakeReq.Check(session.FreeText("Main SYMPTOM is chest pain; Duration 3 hours"), true)
	assert.True(t, res.Escalate)
}

func TestCheck_FreeTextMissingKeyword(t *testing.T) {
	res := intakeReq.Check(session.FreeText("symptoms: headache"), true)

	assert.False(t, res.Escalate)
	assert.Equal(t, []string{"duration"}, res.Missing)
	assert.ErrorIs(t, res.Reason, ErrMalformedState)
}

func TestCheck_FreeTextWithoutKeywordSets(t *testing.T) {
	res := appointmentReq.Check(session.FreeText("patient_id appointment_id doctor datetime"), true)

	assert.False(t, res.Escalate)
	assert.ErrorIs(t, res.Reason, ErrMalformedState)
}

func TestCheck_FreeTextEmpty(t *testing.T) {
	res := intakeReq.Check(session.FreeText(""), true)
	assert.False(t, res.Escalate)
	assert.ElementsMatch(t, []string{"symptoms", "duration"}, res.Missing)
}

func TestCheck_KeywordOnlyField(t *testing.T) {
	req := Requirements{Keywords: map[string][]string{"next_steps": {"next step", "follow-up"}}}

	assert.True(t, req.Check(session.FreeText("Follow-up in 2 days"), true).Escalate)
	assert.False(t, req.Check(session.FreeText("nothing here"), true).Escalate)
}

func TestCheck_Deterministic(t *testing.T) {
	v := session.Structured(map[string]any{"doctor": "Dr. Smith"})
	first := appointmentReq.Check(v, true)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first.Diagnostic, appointmentReq.Check(v, true).Diagnostic)
	}
}

func TestValidate_ReadsFromState(t *testing.T) {
	state := session.NewState()
	assert.Equal(t, DiagnosticMissing, Validate(state, "patient_intake", intakeReq).Diagnostic)

	state.Set("patient_intake", session.Structured(map[string]any{
		"patient_id": "P1", "symptoms": "x", "duration": "y",
	}))
	assert.True(t, Validate(state.Snapshot(), "patient_intake", intakeReq).Escalate)
}

func TestRequirements_Describe(t *testing.T) {
	assert.Equal(t, "no required fields", Requirements{}.Describe())
	assert.Equal(t, "required fields: patient_id, appointment_id, doctor, datetime", appointmentReq.Describe())
}
