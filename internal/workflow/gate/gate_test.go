package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/bargom/errledger/internal/errorstore"
	"github.com/bargom/errledger/internal/errorstore/memstore"
	"github.com/bargom/errledger/internal/ingest"
	"github.com/bargom/errledger/internal/reconcile"
	"github.com/bargom/errledger/internal/resume"
	"github.com/bargom/errledger/pkg/metrics"
)

type envRegisterer struct {
	env *testsuite.TestWorkflowEnvironment
}

func (r envRegisterer) RegisterWorkflow(wf interface{}, opts workflow.RegisterOptions) {
	r.env.RegisterWorkflowWithOptions(wf, opts)
}

func (r envRegisterer) RegisterActivity(act interface{}, opts activity.RegisterOptions) {
	r.env.RegisterActivityWithOptions(act, opts)
}

// envCompleter completes activities parked in the test environment.
type envCompleter struct {
	env *testsuite.TestWorkflowEnvironment
}

func (c envCompleter) CompleteActivity(_ context.Context, token []byte, result interface{}, err error) error {
	return c.env.CompleteActivity(token, result, err)
}

type gateFixture struct {
	env     *testsuite.TestWorkflowEnvironment
	store   *memstore.Store
	ingest  *ingest.Ingestor
	resumer *resume.TemporalResumer
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	store := memstore.New(10)
	ing := ingest.New(store)
	Register(envRegisterer{env: env}, NewActivities(ing, nil))
	return &gateFixture{
		env:     env,
		store:   store,
		ingest:  ing,
		resumer: resume.NewTemporalResumer(envCompleter{env: env}, nil, nil),
	}
}

func gateInput(codes ...string) Input {
	in := Input{ExecutionID: "E1", County: "lee", Step: "validate"}
	for _, c := range codes {
		in.Errors = append(in.Errors, ingest.ErrorEntry{Code: c})
	}
	return in
}

func TestResolutionGate_NothingToWaitFor(t *testing.T) {
	f := newGateFixture(t)
	f.env.ExecuteWorkflow(WorkflowName, gateInput())

	require.True(t, f.env.IsWorkflowCompleted())
	require.NoError(t, f.env.GetWorkflowError())
	var res Result
	require.NoError(t, f.env.GetWorkflowResult(&res))
	assert.False(t, res.Parked)
	assert.True(t, res.Resolved)
}

func TestResolutionGate_ResumedWhenLastErrorClears(t *testing.T) {
	f := newGateFixture(t)
	engine := reconcile.NewEngine(f.store, f.resumer, reconcile.Config{})

	f.env.RegisterDelayedCallback(func() {
		ctx := context.Background()
		item, err := f.store.GetFailedExecution(ctx, "E1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), item.OpenErrorCount)
		assert.NotEmpty(t, item.TaskToken)

		_, err = f.ingest.Ingest(ctx, ingest.ResolvedEvent{Target: ingest.Target{ExecutionID: "E1"}})
		require.NoError(t, err)
		err = f.store.Feed().Drain(ctx, engine.Handle)
		require.NoError(t, err)
	}, time.Hour)

	f.env.ExecuteWorkflow(WorkflowName, gateInput("01012", "02001"))

	require.True(t, f.env.IsWorkflowCompleted())
	require.NoError(t, f.env.GetWorkflowError())
	var res Result
	require.NoError(t, f.env.GetWorkflowResult(&res))
	assert.True(t, res.Parked)
	assert.True(t, res.Resolved)
	assert.Equal(t, "E1", res.ExecutionID)

	_, err := f.store.GetFailedExecution(context.Background(), "E1")
	assert.ErrorIs(t, err, errorstore.ErrNotFound)
}

func TestResolutionGate_FailedByOperator(t *testing.T) {
	f := newGateFixture(t)

	f.env.RegisterDelayedCallback(func() {
		ctx := context.Background()
		item, err := f.store.GetFailedExecution(ctx, "E1")
		require.NoError(t, err)
		require.NoError(t, f.resumer.Fail(ctx, "E1", item.TaskToken, "submitted with bad parcels"))
	}, time.Hour)

	f.env.ExecuteWorkflow(WorkflowName, gateInput("01012"))

	require.True(t, f.env.IsWorkflowCompleted())
	err := f.env.GetWorkflowError()
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, resume.ErrorTypeUnresolved, appErr.Type())
}

func TestResolutionGate_InvalidReportIsNotRetried(t *testing.T) {
	f := newGateFixture(t)
	in := gateInput("01012")
	in.Errors = append(in.Errors, ingest.ErrorEntry{})

	f.env.ExecuteWorkflow(WorkflowName, in)

	require.True(t, f.env.IsWorkflowCompleted())
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(f.env.GetWorkflowError(), &appErr))
	assert.Equal(t, ErrorTypeInvalidInput, appErr.Type())

	_, err := f.store.GetFailedExecution(context.Background(), "E1")
	assert.ErrorIs(t, err, errorstore.ErrNotFound)
}

func TestWorkflowID(t *testing.T) {
	assert.Equal(t, "gate-E1-validate", WorkflowID(gateInput()))
	assert.Equal(t, "gate-E2", WorkflowID(Input{ExecutionID: "E2"}))
}

type recordingStarter struct {
	id   string
	wf   interface{}
	args []interface{}
}

func (s *recordingStarter) ExecuteWorkflow(_ context.Context, id string, wf interface{}, args ...interface{}) (client.WorkflowRun, error) {
	s.id, s.wf, s.args = id, wf, args
	return nil, nil
}

func TestStart(t *testing.T) {
	s := &recordingStarter{}
	in := gateInput("01012")
	_, err := Start(context.Background(), s, in)
	require.NoError(t, err)
	assert.Equal(t, "gate-E1-validate", s.id)
	assert.Equal(t, WorkflowName, s.wf)
	assert.Equal(t, []interface{}{in}, s.args)
}

type fakeRun struct {
	result Result
	err    error
}

func (r fakeRun) GetID() string    { return "gate-E1" }
func (r fakeRun) GetRunID() string { return "run-1" }

func (r fakeRun) Get(ctx context.Context, valuePtr interface{}) error {
	return r.GetWithOptions(ctx, valuePtr, client.WorkflowRunGetOptions{})
}

func (r fakeRun) GetWithOptions(_ context.Context, valuePtr interface{}, _ client.WorkflowRunGetOptions) error {
	if r.err != nil {
		return r.err
	}
	*valuePtr.(*Result) = r.result
	return nil
}

type runStarter struct {
	run fakeRun
}

func (s runStarter) ExecuteWorkflow(context.Context, string, interface{}, ...interface{}) (client.WorkflowRun, error) {
	return s.run, nil
}

func TestAwait(t *testing.T) {
	reg := metrics.NewRegistry(metrics.DefaultConfig())
	want := Result{ExecutionID: "E1", Parked: true, Resolved: true}

	res, err := Await(context.Background(), runStarter{run: fakeRun{result: want}}, gateInput("01012"), reg.Workflow())
	require.NoError(t, err)
	assert.Equal(t, want, res)

	boom := temporal.NewApplicationError("unresolved", resume.ErrorTypeUnresolved)
	_, err = Await(context.Background(), runStarter{run: fakeRun{err: boom}}, gateInput("01012"), reg.Workflow())
	require.Error(t, err)

	families, err := reg.PrometheusRegistry().Gather()
	require.NoError(t, err)
	statuses := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "errledger_workflow_executions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "status" {
					statuses[l.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, map[string]float64{"success": 1, "failure": 1}, statuses)
}

func TestWorkflowStatus(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, metrics.WorkflowStatusSuccess, workflowStatus(ctx, nil))
	assert.Equal(t, metrics.WorkflowStatusCancelled, workflowStatus(ctx, context.Canceled))
	assert.Equal(t, metrics.WorkflowStatusFailure, workflowStatus(ctx, errors.New("boom")))

	expired, cancel := context.WithTimeout(ctx, -time.Second)
	defer cancel()
	assert.Equal(t, metrics.WorkflowStatusTimeout, workflowStatus(expired, expired.Err()))
}
