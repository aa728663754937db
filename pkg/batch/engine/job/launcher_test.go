package job_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/engine/chunk"
	"github.com/marloq/riptide/pkg/batch/engine/job"
	"github.com/marloq/riptide/pkg/batch/infrastructure/repository/inmemory"
	"github.com/marloq/riptide/pkg/batch/support/exception"
	"github.com/marloq/riptide/pkg/batch/test"
)

func singleStepJob(repo *inmemory.InMemoryJobRepository, step *fakeStep) *job.FlowJob {
	flow := model.NewFlowDefinition(step.name)
	flow.AddElement(step.name, step)
	return job.NewFlowJob(job.FlowConfig{
		ID:         "ledger-import",
		Flow:       flow,
		Repository: repo,
	})
}

func launchParams(file string) model.JobParameters {
	params := model.NewJobParameters()
	params.Put("inputFile", file)
	return params
}

func TestLaunchFreshJob(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	launcher := job.NewLauncher(repo)
	flowJob := singleStepJob(repo, &fakeStep{name: "import"})
	params := launchParams("transactions.csv")

	je, err := launcher.Launch(context.Background(), flowJob, params)
	require.NoError(t, err)
	require.NotNil(t, je)

	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, 0, je.RestartCount)

	instance, err := repo.FindJobInstanceByJobNameAndParameters(context.Background(), "ledger-import", params)
	require.NoError(t, err)
	assert.Equal(t, instance.ID, je.JobInstanceID)
}

func TestLaunchCompletedInstanceIsRejected(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	launcher := job.NewLauncher(repo)
	params := launchParams("transactions.csv")

	_, err := launcher.Launch(context.Background(), singleStepJob(repo, &fakeStep{name: "import"}), params)
	require.NoError(t, err)

	je, err := launcher.Launch(context.Background(), singleStepJob(repo, &fakeStep{name: "import"}), params)
	assert.Nil(t, je)
	assert.ErrorIs(t, err, exception.ErrRestartNotAllowed)

	// Different parameters map to a fresh instance and run fine.
	je, err = launcher.Launch(context.Background(), singleStepJob(repo, &fakeStep{name: "import"}), launchParams("other.csv"))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
}

func TestLaunchRunningInstanceIsRejected(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	launcher := job.NewLauncher(repo)
	params := launchParams("transactions.csv")

	// Another process is mid-flight on the same instance.
	instance := model.NewJobInstance("ledger-import", params)
	require.NoError(t, repo.SaveJobInstance(context.Background(), instance))
	running := model.NewJobExecution(instance.ID, "ledger-import", params)
	running.MarkAsStarted()
	require.NoError(t, repo.SaveJobExecution(context.Background(), running))

	je, err := launcher.Launch(context.Background(), singleStepJob(repo, &fakeStep{name: "import"}), params)
	assert.Nil(t, je)
	assert.ErrorIs(t, err, exception.ErrJobAlreadyRunning)
	assert.Equal(t, exception.ClassConcurrency, exception.ClassOf(err))
}

func TestLaunchValidationFailureCreatesNoState(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	launcher := job.NewLauncher(repo)
	flow := model.NewFlowDefinition("import")
	flow.AddElement("import", &fakeStep{name: "import"})
	flowJob := job.NewFlowJob(job.FlowConfig{
		ID:         "ledger-import",
		Flow:       flow,
		Repository: repo,
		Validator: func(params model.JobParameters) error {
			return errors.New("inputFile parameter is required")
		},
	})

	je, err := launcher.Launch(context.Background(), flowJob, model.NewJobParameters())
	assert.Nil(t, je)
	require.Error(t, err)
	assert.Equal(t, exception.ClassValidation, exception.ClassOf(err))

	_, err = repo.FindJobInstanceByJobNameAndParameters(context.Background(), "ledger-import", model.NewJobParameters())
	assert.Error(t, err)
}

// chunkImportJob builds a single chunk step job over fresh components, the
// way a restart launches a new process with the same job definition.
func chunkImportJob(repo *inmemory.InMemoryJobRepository, txm *test.MemoryTxManager, reader *test.SliceReader) *job.FlowJob {
	step := chunk.NewStep(chunk.StepConfig{
		ID:         "import",
		Reader:     reader,
		Writer:     test.NewStagingWriter(),
		ChunkSize:  2,
		TxManager:  txm,
		Repository: repo,
	})
	flow := model.NewFlowDefinition("import")
	flow.AddElement("import", step)
	return job.NewFlowJob(job.FlowConfig{
		ID:         "ledger-import",
		Flow:       flow,
		Repository: repo,
	})
}

func TestLaunchRestartResumesFailedExecution(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	launcher := job.NewLauncher(repo)
	txm := test.NewMemoryTxManager()
	params := launchParams("transactions.csv")

	// First attempt fails mid-step after one committed chunk.
	reader := test.NewSliceReader("a", "b", "c", "d", "e")
	reader.FailAt = map[int]error{3: errors.New("disk read failed")}

	first, err := launcher.Launch(context.Background(), chunkImportJob(repo, txm, reader), params)
	require.Error(t, err)
	require.NotNil(t, first)
	assert.Equal(t, model.BatchStatusFailed, first.Status)
	assert.Equal(t, []any{"a", "b"}, txm.Committed)

	// The relaunch restarts the instance and resumes past the committed chunk.
	second, err := launcher.Launch(context.Background(), chunkImportJob(repo, txm, test.NewSliceReader("a", "b", "c", "d", "e")), params)
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, model.BatchStatusCompleted, second.Status)
	assert.Equal(t, 1, second.RestartCount)
	assert.NotEqual(t, first.ID, second.ID)
	// Nothing committed twice.
	assert.Equal(t, []any{"a", "b", "c", "d", "e"}, txm.Committed)

	// The superseded execution was abandoned.
	superseded, err := repo.FindJobExecutionByID(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusAbandoned, superseded.Status)
}

func TestLaunchRestartPassesOverCompletedSteps(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	launcher := job.NewLauncher(repo)
	params := launchParams("transactions.csv")
	runs := map[string]int{}

	buildJob := func(failExport bool) *job.FlowJob {
		importStep := &fakeStep{name: "import", run: func(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
			runs["import"]++
			return nil
		}}
		exportStep := &fakeStep{name: "export", run: func(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
			runs["export"]++
			if failExport {
				return errors.New("bucket unavailable")
			}
			return nil
		}}
		flow := model.NewFlowDefinition("import")
		flow.AddElement("import", importStep)
		flow.AddElement("export", exportStep)
		flow.AddTransitionRule("import", string(model.ExitStatusCompleted), "export", false, false, false)
		flow.AddTransitionRule("export", string(model.ExitStatusCompleted), "", true, false, false)
		return job.NewFlowJob(job.FlowConfig{ID: "ledger-import", Flow: flow, Repository: repo})
	}

	_, err := launcher.Launch(context.Background(), buildJob(true), params)
	require.Error(t, err)

	second, err := launcher.Launch(context.Background(), buildJob(false), params)
	require.NoError(t, err)

	assert.Equal(t, model.BatchStatusCompleted, second.Status)
	// The completed import step did not run again; only export was retried.
	assert.Equal(t, 1, runs["import"])
	assert.Equal(t, 2, runs["export"])
}

func TestStopCancelsRunningExecution(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	launcher := job.NewLauncher(repo)

	started := make(chan string, 1)
	blocking := &fakeStep{name: "import", run: func(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
		started <- je.ID
		<-ctx.Done()
		return ctx.Err()
	}}

	go func() {
		id := <-started
		for !launcher.Stop(id) {
			time.Sleep(time.Millisecond)
		}
	}()

	je, err := launcher.Launch(context.Background(), singleStepJob(repo, blocking), launchParams("transactions.csv"))
	require.NoError(t, err)
	require.NotNil(t, je)
	assert.Equal(t, model.BatchStatusStopped, je.Status)
}

func TestStopUnknownExecution(t *testing.T) {
	launcher := job.NewLauncher(inmemory.NewInMemoryJobRepository())
	assert.False(t, launcher.Stop("no-such-execution"))
}
