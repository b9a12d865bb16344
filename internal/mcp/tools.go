package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/clinicpulse/internal/session"
	"github.com/fyrsmithlabs/clinicpulse/internal/tools"
)

// ===== CLINIC TOOLS =====

type fetchPatientRecordsInput struct {
	SessionID string `json:"session_id" jsonschema:"Session the result is stored in"`
	PatientID string `json:"patient_id" jsonschema:"Patient identifier, e.g. P12345"`
}

type recordTriageDecisionInput struct {
	SessionID     string `json:"session_id" jsonschema:"Session the result is stored in"`
	PatientID     string `json:"patient_id" jsonschema:"Patient identifier"`
	PriorityLevel string `json:"priority_level" jsonschema:"Critical, Urgent or Routine"`
}

type waitForLabResultsInput struct {
	SessionID string `json:"session_id" jsonschema:"Session the result is stored in"`
	PatientID string `json:"patient_id" jsonschema:"Patient identifier"`
}

type checkDoctorAvailabilityInput struct {
	SessionID    string `json:"session_id" jsonschema:"Session the result is stored in"`
	Specialty    string `json:"specialty" jsonschema:"general, cardiology, pediatrics, orthopedics or dermatology"`
	UrgencyLevel string `json:"urgency_level" jsonschema:"critical, urgent or routine"`
}

type bookAppointmentInput struct {
	SessionID           string `json:"session_id" jsonschema:"Session the result is stored in"`
	PatientID           string `json:"patient_id" jsonschema:"Patient identifier"`
	DoctorName          string `json:"doctor_name" jsonschema:"Doctor to book"`
	AppointmentDatetime string `json:"appointment_datetime" jsonschema:"Slot time as YYYY-MM-DD HH:MM"`
	AppointmentType     string `json:"appointment_type,omitempty" jsonschema:"Appointment type (default consultation)"`
}

type sendAppointmentConfirmationInput struct {
	SessionID          string         `json:"session_id" jsonschema:"Session the result is stored in"`
	PatientID          string         `json:"patient_id" jsonschema:"Patient identifier"`
	AppointmentDetails map[string]any `json:"appointment_details" jsonschema:"The booked appointment"`
}

type toolOutput struct {
	Tool      string         `json:"tool" jsonschema:"Tool name"`
	OK        bool           `json:"ok" jsonschema:"Whether the call succeeded"`
	Output    map[string]any `json:"output,omitempty" jsonschema:"Tool result, also stored in session state"`
	Error     string         `json:"error,omitempty" jsonschema:"Failure message"`
	Retryable bool           `json:"retryable,omitempty" jsonschema:"Whether retrying may succeed"`
}

// addClinicTool registers one clinic tool. args maps the typed input to
// the registry's argument map.
func addClinicTool[In any](s *Server, name string, sessionID func(In) string, args func(In) map[string]any) error {
	def, ok := s.tools.Get(name)
	if !ok {
		return fmt.Errorf("clinic tool %s is not registered", name)
	}
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        name,
		Description: def.Description,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, toolOutput, error) {
		return s.callClinicTool(ctx, name, sessionID(in), args(in))
	})
	return nil
}

func (s *Server) callClinicTool(ctx context.Context, name, sessionID string, args map[string]any) (*mcp.CallToolResult, toolOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, name)
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, name)
		s.metrics.RecordInvocation(ctx, name, time.Since(start), toolErr)
	}()

	res, err := s.pipeline.InvokeTool(ctx, sessionID, name, args)
	if err != nil {
		toolErr = err
		return nil, toolOutput{}, err
	}
	out := toolOutput{Tool: res.Tool, OK: res.OK, Output: res.Output, Error: res.Error, Retryable: res.Retryable}
	if !res.OK {
		toolErr = res.Err
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: res.Error}},
		}, out, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%s stored for session %s", name, sessionID)}},
	}, out, nil
}

func (s *Server) registerClinicTools() error {
	return firstErr(
		addClinicTool(s, tools.FetchPatientRecords,
			func(in fetchPatientRecordsInput) string { return in.SessionID },
			func(in fetchPatientRecordsInput) map[string]any {
				return map[string]any{"patient_id": in.PatientID}
			}),
		addClinicTool(s, tools.RecordTriageDecision,
			func(in recordTriageDecisionInput) string { return in.SessionID },
			func(in recordTriageDecisionInput) map[string]any {
				return map[string]any{"patient_id": in.PatientID, "priority_level": in.PriorityLevel}
			}),
		addClinicTool(s, tools.WaitForLabResults,
			func(in waitForLabResultsInput) string { return in.SessionID },
			func(in waitForLabResultsInput) map[string]any {
				return map[string]any{"patient_id": in.PatientID}
			}),
		addClinicTool(s, tools.CheckDoctorAvailability,
			func(in checkDoctorAvailabilityInput) string { return in.SessionID },
			func(in checkDoctorAvailabilityInput) map[string]any {
				return map[string]any{"specialty": in.Specialty, "urgency_level": in.UrgencyLevel}
			}),
		addClinicTool(s, tools.BookAppointment,
			func(in bookAppointmentInput) string { return in.SessionID },
			func(in bookAppointmentInput) map[string]any {
				args := map[string]any{
					"patient_id":           in.PatientID,
					"doctor_name":          in.DoctorName,
					"appointment_datetime": in.AppointmentDatetime,
				}
				if in.AppointmentType != "" {
					args["appointment_type"] = in.AppointmentType
				}
				return args
			}),
		addClinicTool(s, tools.SendAppointmentConfirmation,
			func(in sendAppointmentConfirmationInput) string { return in.SessionID },
			func(in sendAppointmentConfirmationInput) map[string]any {
				return map[string]any{"patient_id": in.PatientID, "appointment_details": in.AppointmentDetails}
			}),
	)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// ===== PIPELINE TOOLS =====

type sendMessageInput struct {
	SessionID string `json:"session_id" jsonschema:"Conversation session; created on first use"`
	Message   string `json:"message" jsonschema:"Inbound user message"`
}

type stepOutput struct {
	Stage      string `json:"stage"`
	Status     string `json:"status"`
	Iteration  int    `json:"iteration"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

type sendMessageOutput struct {
	Response     string       `json:"response" jsonschema:"Reply for the user"`
	Steps        []stepOutput `json:"steps" jsonschema:"Stage steps run for this message"`
	Complete     bool         `json:"complete" jsonschema:"Whether every stage has finished"`
	Aborted      bool         `json:"aborted" jsonschema:"Whether a strict stage stopped the workflow"`
	AbortedStage string       `json:"aborted_stage,omitempty"`
	Exhausted    []string     `json:"exhausted,omitempty" jsonschema:"Stages that used every iteration"`
}

type getSessionInput struct {
	SessionID string `json:"session_id" jsonschema:"Session to inspect"`
}

type stageOutput struct {
	Stage      string `json:"stage"`
	Status     string `json:"status"`
	Iterations int    `json:"iterations"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

type getSessionOutput struct {
	SessionID string         `json:"session_id"`
	Stages    []stageOutput  `json:"stages"`
	State     map[string]any `json:"state" jsonschema:"Session state; structured values as objects, free text as strings"`
	Turns     int            `json:"turns"`
}

func (s *Server) registerPipelineTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "send_message",
		Description: "Send one message to a ClinicPulse session and run the next pipeline step",
	}, s.sendMessage)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_session",
		Description: "Show stage statuses and stored state for a ClinicPulse session",
	}, s.getSession)
}

func (s *Server) sendMessage(ctx context.Context, _ *mcp.CallToolRequest, in sendMessageInput) (*mcp.CallToolResult, sendMessageOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "send_message")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "send_message")
		s.metrics.RecordInvocation(ctx, "send_message", time.Since(start), toolErr)
	}()

	if in.Message == "" {
		toolErr = fmt.Errorf("message is required")
		return nil, sendMessageOutput{}, toolErr
	}
	res, err := s.pipeline.Tick(ctx, in.SessionID, in.Message)
	if err != nil {
		toolErr = err
		s.logger.Warn(ctx, "send_message failed", zap.Error(err))
		return nil, sendMessageOutput{}, err
	}

	out := sendMessageOutput{
		Response:     res.Response,
		Steps:        make([]stepOutput, len(res.Steps)),
		Complete:     res.Complete,
		Aborted:      res.Aborted,
		AbortedStage: res.AbortedStage,
		Exhausted:    res.Exhausted,
	}
	for i, step := range res.Steps {
		out.Steps[i] = stepOutput{
			Stage:      step.Stage,
			Status:     string(step.Status),
			Iteration:  step.Iteration,
			Diagnostic: step.Diagnostic,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: res.Response}},
	}, out, nil
}

func (s *Server) getSession(ctx context.Context, _ *mcp.CallToolRequest, in getSessionInput) (*mcp.CallToolResult, getSessionOutput, error) {
	start := time.Now()
	var toolErr error
	defer func() {
		s.metrics.RecordInvocation(ctx, "get_session", time.Since(start), toolErr)
	}()

	sess, err := s.pipeline.Session(ctx, in.SessionID)
	if err != nil {
		toolErr = err
		return nil, getSessionOutput{}, err
	}

	out := getSessionOutput{
		SessionID: sess.ID,
		State:     make(map[string]any, sess.State.Len()),
		Turns:     len(sess.Turns),
	}
	for _, def := range s.pipeline.Stages() {
		st := stageOutput{Stage: def.Name, Status: string(session.StatusPending)}
		if run, ok := sess.Runs[def.Name]; ok {
			st.Status = string(run.Status)
			st.Iterations = run.Iterations
			st.Diagnostic = run.Diagnostic
		}
		out.Stages = append(out.Stages, st)
	}
	for _, key := range sess.State.Keys() {
		v, _ := sess.State.Get(key)
		if v.IsStructured() {
			out.State[key] = v.Fields
		} else {
			out.State[key] = v.Text
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("session %s: %d turns, %d state keys", sess.ID, out.Turns, len(out.State))}},
	}, out, nil
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() error {
	if err := s.registerClinicTools(); err != nil {
		return err
	}
	s.registerPipelineTools()
	return nil
}
