package clinic

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/clinicpulse/internal/config"
	"github.com/fyrsmithlabs/clinicpulse/internal/generation"
	"github.com/fyrsmithlabs/clinicpulse/internal/logging"
	"github.com/fyrsmithlabs/clinicpulse/internal/pipeline"
	"github.com/fyrsmithlabs/clinicpulse/internal/session"
	"github.com/fyrsmithlabs/clinicpulse/internal/tools"
)

func newTestApp(t *testing.T, cfg *config.Config, logger *logging.Logger) *App {
	t.Helper()
	app, err := NewPipeline(cfg, Options{
		Logger: logger,
		Clock:  clock,
		Clinic: tools.NewClinic(
			tools.WithClock(clock),
			tools.WithSeed(7),
			tools.WithIDSource(func() string { return "abcdef12-3456" }),
		),
	})
	require.NoError(t, err)
	return app
}

func TestDemo_CompletesWithBriefing(t *testing.T) {
	tl := logging.NewTestLogger()
	app := newTestApp(t, nil, tl.Logger)
	ctx := context.Background()

	tick := func(i int) *pipeline.TickResult {
		res, err := app.Pipeline.Tick(ctx, DemoSessionID, DemoMessages[i])
		require.NoError(t, err)
		return res
	}
	status := func(stage string) session.Status {
		sess, err := app.Pipeline.Session(ctx, DemoSessionID)
		require.NoError(t, err)
		return sess.RunStatus(stage)
	}

	res := tick(0)
	assert.False(t, res.Complete)
	assert.Equal(t, session.StatusRunning, status(StageIntake))
	assert.Contains(t, res.Response, "duration")

	res = tick(1)
	assert.Equal(t, session.StatusEscalated, status(StageIntake))
	assert.Contains(t, res.Response, "[Intake complete]")
	assert.Equal(t, session.StatusPending, status(StageTriage), "intake is strict and ends the tick")

	res = tick(2)
	assert.Equal(t, session.StatusEscalated, status(StageTriage))
	assert.Equal(t, session.StatusPaused, status(StageLabs))
	assert.Contains(t, res.Response, "Waiting for external input")
	assert.False(t, res.Complete)

	res = tick(3)
	require.True(t, res.Complete, res.Response)
	assert.False(t, res.Aborted)
	assert.Empty(t, res.Exhausted)
	for _, stage := range []string{StageLabs, StageBriefing, StageAppointment} {
		assert.Equal(t, session.StatusEscalated, status(stage), stage)
	}
	require.NotNil(t, res.FinalOutput)
	assert.Contains(t, res.FinalOutput.Text, "# Clinician Briefing: Jane Doe (P-1042)")
	assert.Contains(t, res.FinalOutput.Text, "Lab results: The X-ray results came back clear")
	assert.Contains(t, res.Response, "[Appointment booked]")
	assert.Contains(t, res.Response, "## Risk Flags")

	sess, err := app.Pipeline.Session(ctx, DemoSessionID)
	require.NoError(t, err)
	appt, ok := sess.State.Get(KeyAppointmentDetails)
	require.True(t, ok)
	assert.Equal(t, "P-1042", appt.StringField("patient_id"))
	assert.Equal(t, "urgent", appt.StringField("urgency_level"))
	assert.Len(t, sess.Turns, 4)

	tl.AssertLogged(t, zapcore.InfoLevel, "briefing scored")
}

func TestDemo_LabsSkippedWithoutPendingWork(t *testing.T) {
	app := newTestApp(t, nil, nil)
	ctx := context.Background()
	for _, msg := range []string{
		"Patient P-7 Ana Ruiz has a rash",
		"It started 3 days ago",
		"Nothing else to add",
	} {
		_, err := app.Pipeline.Tick(ctx, "no-labs", msg)
		require.NoError(t, err)
	}
	sess, err := app.Pipeline.Session(ctx, "no-labs")
	require.NoError(t, err)
	assert.Equal(t, session.StatusPending, sess.RunStatus(StageLabs))
	assert.Equal(t, session.StatusEscalated, sess.RunStatus(StageAppointment))
	assert.False(t, sess.State.Has(KeyLabResults))
}

func TestNewPipeline_AppliesStageOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.Stages = map[string]config.StageOverride{
		StageIntake: {MaxIterations: 1},
	}
	app := newTestApp(t, cfg, nil)

	res, err := app.Pipeline.Tick(context.Background(), "strict", "hello")
	require.NoError(t, err)
	assert.True(t, res.Aborted)
	assert.Equal(t, StageIntake, res.AbortedStage)
	assert.Contains(t, res.Response, "cannot continue")
}

func TestNewPipeline_UnknownOverride(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.Stages = map[string]config.StageOverride{"billing": {MaxIterations: 2}}
	_, err := NewPipeline(cfg, Options{})
	assert.Error(t, err)
}

func TestNewGenerator(t *testing.T) {
	g, err := NewGenerator(config.GenerationConfig{Provider: config.ProviderRules}, clock, logging.Nop())
	require.NoError(t, err)
	assert.IsType(t, &RuleGenerator{}, g)

	_, err = NewGenerator(config.GenerationConfig{Provider: "oracle"}, clock, logging.Nop())
	assert.ErrorIs(t, err, pipeline.ErrConfiguration)
}

func TestNewPipeline_UsesInjectedGenerator(t *testing.T) {
	calls := 0
	gen := generation.Func(func(context.Context, generation.Request) (generation.Response, error) {
		calls++
		return generation.Response{Reply: "thinking"}, nil
	})
	app, err := NewPipeline(nil, Options{Generator: gen})
	require.NoError(t, err)
	_, err = app.Pipeline.Tick(context.Background(), "s1", "hi")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	mem, err := OpenStore(ctx, config.StoreConfig{Backend: config.BackendMemory}, nil)
	require.NoError(t, err)
	require.NoError(t, mem.Close())

	lite, err := OpenStore(ctx, config.StoreConfig{
		Backend:    config.BackendSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "sessions.db"),
	}, nil)
	require.NoError(t, err)
	sess := session.New("s1", fixedNow)
	require.NoError(t, lite.Save(ctx, sess))
	got, err := lite.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
	require.NoError(t, lite.Close())

	_, err = OpenStore(ctx, config.StoreConfig{Backend: config.BackendNATS}, nil)
	assert.ErrorIs(t, err, pipeline.ErrConfiguration)

	_, err = OpenStore(ctx, config.StoreConfig{Backend: "redis"}, nil)
	assert.ErrorIs(t, err, pipeline.ErrConfiguration)
}

func TestCheck_Passes(t *testing.T) {
	app := newTestApp(t, nil, nil)
	report := Check(context.Background(), app)
	assert.True(t, report.OK(), "%+v", report.Failed())
	assert.GreaterOrEqual(t, len(report.Results), 3+len(gateCases())+len(toolSmokeCases()))
}

func TestCheck_ReportsMissingTools(t *testing.T) {
	app := newTestApp(t, nil, nil)
	app.Tools = tools.NewRegistry(logging.Nop())
	report := Check(context.Background(), app)
	assert.False(t, report.OK())

	var names []string
	for _, r := range report.Failed() {
		names = append(names, r.Name)
	}
	assert.Contains(t, names, "tools")
	assert.Contains(t, names, "tool "+tools.FetchPatientRecords)
}
