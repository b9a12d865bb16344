package tools

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tool names.
const (
	FetchPatientRecords         = "fetch_patient_records"
	RecordTriageDecision        = "record_triage_decision"
	WaitForLabResults           = "wait_for_lab_results"
	CheckDoctorAvailability     = "check_doctor_availability"
	BookAppointment             = "book_appointment"
	SendAppointmentConfirmation = "send_appointment_confirmation"
)

// State keys written by the clinic tools.
const (
	KeyPatientRecords          = "patient_records"
	KeyTriageDecision          = "triage_decision"
	KeyLabStatus               = "lab_status"
	KeyDoctorAvailability      = "doctor_availability"
	KeyBookedAppointment       = "booked_appointment"
	KeyAppointmentConfirmation = "appointment_confirmation"
)

// SlotLayout formats appointment slot times.
const SlotLayout = "2006-01-02 15:04"

var doctorsBySpecialty = map[string][]string{
	"general":     {"Dr. Smith", "Dr. Johnson", "Dr. Williams"},
	"cardiology":  {"Dr. Heart", "Dr. Cardio"},
	"pediatrics":  {"Dr. Kids", "Dr. Child"},
	"orthopedics": {"Dr. Bones", "Dr. Joint"},
	"dermatology": {"Dr. Skin", "Dr. Derm"},
}

var knownConditions = []string{
	"hypertension",
	"type 2 diabetes",
	"asthma",
	"no chronic conditions recorded",
}

// Clinic implements the mock clinic operations. Now, Rand and NewID are
// injectable so results are reproducible in tests.
type Clinic struct {
	Now   func() time.Time
	NewID func() string

	mu   sync.Mutex
	rand *rand.Rand
}

// ClinicOption configures a Clinic.
type ClinicOption func(*Clinic)

// WithClock fixes the clock.
func WithClock(now func() time.Time) ClinicOption {
	return func(c *Clinic) { c.Now = now }
}

// WithSeed seeds doctor selection.
func WithSeed(seed uint64) ClinicOption {
	return func(c *Clinic) { c.rand = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithIDSource replaces the random component of appointment ids.
func WithIDSource(newID func() string) ClinicOption {
	return func(c *Clinic) { c.NewID = newID }
}

// NewClinic creates the clinic tool set.
func NewClinic(opts ...ClinicOption) *Clinic {
	c := &Clinic{
		Now:   time.Now,
		NewID: uuid.NewString,
		rand:  rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds the six clinic tools to reg.
func (c *Clinic) Register(reg *Registry) error {
	for _, def := range c.Definitions() {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// Definitions returns the clinic tool definitions.
func (c *Clinic) Definitions() []Definition {
	patientID := Param{Name: "patient_id", Type: ParamString, Description: "Patient identifier, e.g. P12345", Required: true}
	return []Definition{
		{
			Name:        FetchPatientRecords,
			Description: "Look up the patient's last visit, known conditions and recent vitals",
			Params:      []Param{patientID},
			StateKey:    KeyPatientRecords,
			Handler:     c.fetchPatientRecords,
		},
		{
			Name:        RecordTriageDecision,
			Description: "Log a triage priority (Critical, Urgent or Routine) for the patient",
			Params: []Param{
				patientID,
				{Name: "priority_level", Type: ParamString, Description: "Critical, Urgent or Routine", Required: true},
			},
			StateKey: KeyTriageDecision,
			Handler:  c.recordTriageDecision,
		},
		{
			Name:        WaitForLabResults,
			Description: "Signal that the workflow is waiting for lab uploads",
			Params:      []Param{patientID},
			StateKey:    KeyLabStatus,
			Handler:     c.waitForLabResults,
		},
		{
			Name:        CheckDoctorAvailability,
			Description: "List open appointment slots for a specialty at the given urgency",
			Params: []Param{
				{Name: "specialty", Type: ParamString, Description: "general, cardiology, pediatrics, orthopedics or dermatology", Required: true},
				{Name: "urgency_level", Type: ParamString, Description: "critical, urgent or routine", Required: true},
			},
			StateKey: KeyDoctorAvailability,
			Handler:  c.checkDoctorAvailability,
		},
		{
			Name:        BookAppointment,
			Description: "Book an appointment slot with a doctor",
			Params: []Param{
				patientID,
				{Name: "doctor_name", Type: ParamString, Description: "Doctor to book", Required: true},
				{Name: "appointment_datetime", Type: ParamString, Description: "Slot time as YYYY-MM-DD HH:MM", Required: true},
				{Name: "appointment_type", Type: ParamString, Description: "Appointment type", Default: "consultation"},
			},
			StateKey: KeyBookedAppointment,
			Handler:  c.bookAppointment,
		},
		{
			Name:        SendAppointmentConfirmation,
			Description: "Send the booking confirmation to the patient",
			Params: []Param{
				patientID,
				{Name: "appointment_details", Type: ParamObject, Description: "The booked appointment", Required: true},
			},
			StateKey: KeyAppointmentConfirmation,
			Handler:  c.sendAppointmentConfirmation,
		},
	}
}

func (c *Clinic) now() time.Time {
	return c.Now().UTC()
}

func (c *Clinic) fetchPatientRecords(_ context.Context, args map[string]any) (map[string]any, error) {
	id := args["patient_id"].(string)

	// Records are stable per patient id.
	h := fnv.New64a()
	h.Write([]byte(id))
	seed := h.Sum64()
	r := rand.New(rand.NewPCG(seed, ^seed))

	systolic := 110 + r.IntN(41)
	diastolic := 70 + r.IntN(26)
	temp := 36.5 + r.Float64()*2.0

	return map[string]any{
		"patient_id":       id,
		"last_visit":       "2024-11-12",
		"known_conditions": knownConditions[r.IntN(len(knownConditions))],
		"recent_vitals": map[string]any{
			"bp":     fmt.Sprintf("%d/%d", systolic, diastolic),
			"hr":     60 + r.IntN(51),
			"temp_c": float64(int(temp*10+0.5)) / 10,
		},
	}, nil
}

func (c *Clinic) recordTriageDecision(_ context.Context, args map[string]any) (map[string]any, error) {
	return map[string]any{
		"patient_id":     args["patient_id"],
		"priority_level": args["priority_level"],
		"recorded_at":    c.now().Format(time.RFC3339),
		"status":         "logged",
	}, nil
}

func (c *Clinic) waitForLabResults(_ context.Context, _ map[string]any) (map[string]any, error) {
	return map[string]any{
		"status":  "pending",
		"message": "Awaiting lab uploads",
	}, nil
}

func (c *Clinic) checkDoctorAvailability(_ context.Context, args map[string]any) (map[string]any, error) {
	specialty := args["specialty"].(string)
	urgency := strings.ToLower(args["urgency_level"].(string))

	doctors, ok := doctorsBySpecialty[strings.ToLower(specialty)]
	if !ok {
		doctors = doctorsBySpecialty["general"]
	}

	base := c.now()
	var slots []time.Time
	switch urgency {
	case "critical":
		for i := 1; i <= 3; i++ {
			slots = append(slots, base.Add(time.Duration(2*i)*time.Hour))
		}
	case "urgent":
		for i := 1; i <= 3; i++ {
			slots = append(slots, base.AddDate(0, 0, i))
		}
	default:
		for d := 7; d < 15; d += 2 {
			slots = append(slots, base.AddDate(0, 0, d))
		}
	}

	c.mu.Lock()
	doctor := doctors[c.rand.IntN(len(doctors))]
	c.mu.Unlock()

	available := make([]any, 0, len(slots))
	for _, s := range slots {
		available = append(available, map[string]any{
			"datetime":         s.Format(SlotLayout),
			"doctor":           doctor,
			"specialty":        specialty,
			"duration_minutes": 30,
		})
	}

	return map[string]any{
		"available_slots": available,
		"doctor":          doctor,
		"specialty":       specialty,
	}, nil
}

func (c *Clinic) bookAppointment(_ context.Context, args map[string]any) (map[string]any, error) {
	now := c.now()
	suffix := strings.ToUpper(strings.ReplaceAll(c.NewID(), "-", ""))
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}

	apptType, _ := args["appointment_type"].(string)
	if apptType == "" {
		apptType = "consultation"
	}

	return map[string]any{
		"appointment_id": fmt.Sprintf("APT-%s-%s", now.Format("20060102150405"), suffix),
		"patient_id":     args["patient_id"],
		"doctor":         args["doctor_name"],
		"datetime":       args["appointment_datetime"],
		"type":           apptType,
		"status":         "confirmed",
		"booked_at":      now.Format(time.RFC3339),
		"location":       "Clinic Building A, Room 201",
		"instructions":   "Please arrive 15 minutes early for check-in",
	}, nil
}

func (c *Clinic) sendAppointmentConfirmation(_ context.Context, args map[string]any) (map[string]any, error) {
	details := args["appointment_details"].(map[string]any)
	return map[string]any{
		"patient_id":        args["patient_id"],
		"confirmation_sent": true,
		"channels":          []any{"email", "sms"},
		"message":           fmt.Sprintf("Appointment confirmed with %v on %v", details["doctor"], details["datetime"]),
		"sent_at":           c.now().Format(time.RFC3339),
	}, nil
}
