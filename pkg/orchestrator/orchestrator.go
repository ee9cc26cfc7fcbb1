package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/shipd-io/shipd/pkg/build"
	"github.com/shipd-io/shipd/pkg/deploy"
	shiperr "github.com/shipd-io/shipd/pkg/errors"
	"github.com/shipd-io/shipd/pkg/event"
	"github.com/shipd-io/shipd/pkg/gate"
	"github.com/shipd-io/shipd/pkg/image"
	"github.com/shipd-io/shipd/pkg/job"
	shipmetrics "github.com/shipd-io/shipd/pkg/metrics"
	"github.com/shipd-io/shipd/pkg/registry"
	"github.com/shipd-io/shipd/pkg/run"
	"github.com/shipd-io/shipd/pkg/runstore"
	"github.com/shipd-io/shipd/pkg/scan"
	"github.com/shipd-io/shipd/pkg/store"
	"github.com/shipd-io/shipd/pkg/trigger"
)

var (
	ErrNotSuspended = errors.New("run is not awaiting approval")
	ErrRunTerminal  = errors.New("run has already finished")
)

// Config carries the orchestrator's own knobs; collaborator-specific
// configuration lives with the collaborators.
type Config struct {
	Policy     trigger.Policy
	ImageRepo  image.Name // where built images go, e.g. ghcr.io/org/repo
	Deployment string     // logical deployment name in the descriptor
	ScanParams scan.Params

	// Per-stage timeouts; zero means no timeout for that stage.
	StageTimeouts map[run.StageName]time.Duration

	// Workers is how many runs may execute at once. Runs for
	// different revisions share nothing but the descriptor, which
	// defends itself (optimistic concurrency), so this is purely a
	// resource knob.
	Workers int
}

func (c Config) stageTimeout(name run.StageName) time.Duration {
	return c.StageTimeouts[name]
}

// Orchestrator owns runs: it creates them for valid triggers, drives
// each through the fixed stage topology, suspends on the manual gate
// and resumes on an external signal.
type Orchestrator struct {
	cfg Config

	toolchain build.Toolchain
	builder   build.ImageBuilder
	scanner   scan.Scanner
	pusher    registry.Registry
	updater   *deploy.Updater

	artifacts *store.Store
	runs      runstore.Store
	events    event.Writer
	queue     *job.Queue
	logger    log.Logger

	// mu guards mutation of live runs; stage work itself happens
	// outside the lock.
	mu        sync.Mutex
	cancelled map[run.ID]bool
}

type Deps struct {
	Toolchain build.Toolchain
	Builder   build.ImageBuilder
	Scanner   scan.Scanner
	Pusher    registry.Registry
	Updater   *deploy.Updater
	Artifacts *store.Store
	Runs      runstore.Store
	Events    event.Writer
	Logger    log.Logger
}

func New(cfg Config, deps Deps, stop <-chan struct{}, wg *sync.WaitGroup) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	o := &Orchestrator{
		cfg:       cfg,
		toolchain: deps.Toolchain,
		builder:   deps.Builder,
		scanner:   deps.Scanner,
		pusher:    deps.Pusher,
		updater:   deps.Updater,
		artifacts: deps.Artifacts,
		runs:      deps.Runs,
		events:    deps.Events,
		queue:     job.NewQueue(stop, wg),
		logger:    deps.Logger,
		cancelled: make(map[run.ID]bool),
	}
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go o.worker(wg)
	}
	return o
}

func (o *Orchestrator) worker(wg *sync.WaitGroup) {
	defer wg.Done()
	for j := range o.queue.Ready() {
		jobLogger := log.With(o.logger, "runID", j.RunID)
		jobLogger.Log("state", "in-progress")
		start := time.Now()
		err := j.Do(jobLogger)
		jobDuration.With(shipmetrics.LabelSuccess, fmt.Sprint(err == nil)).Observe(time.Since(start).Seconds())
		if err != nil {
			jobLogger.Log("state", "done", "success", "false", "err", err)
		} else {
			jobLogger.Log("state", "done", "success", "true")
		}
	}
}

// Submit validates a trigger event against the activation rule and,
// if it passes, creates and schedules a run. A suppressed trigger is
// not an error; it returns a nil run.
func (o *Orchestrator) Submit(ctx context.Context, ev trigger.Event) (*run.Run, error) {
	if _, err := image.ParseRevision(string(ev.Revision)); err != nil {
		return nil, err
	}
	ok, reason := o.cfg.Policy.Allows(ev)
	if !ok {
		o.logger.Log("trigger", ev.Kind, "revision", ev.Revision.Short(), "activated", "false", "reason", reason)
		return nil, nil
	}

	r := run.New(ev)
	if err := o.saveRun(r); err != nil {
		return nil, err
	}
	runsCreated.With(shipmetrics.LabelTrigger, string(ev.Kind)).Add(1)
	o.record(r.ID, event.EventRunCreated, fmt.Sprintf("run created for revision %s (%s)", ev.Revision.Short(), reason))

	id := r.ID
	o.queue.Enqueue(&job.Job{RunID: id, Do: func(logger log.Logger) error {
		return o.execute(logger, id)
	}})
	return r.Copy(), nil
}

// Cancel asks a run to stop. It takes effect between stages; a stage
// with external side effects that has already started runs to
// completion regardless. A suspended run has nothing in flight, so it
// settles to failed immediately.
func (o *Orchestrator) Cancel(id run.ID) error {
	r, err := o.runs.Get(id)
	if err != nil {
		return err
	}
	if r.Status.Terminal() {
		return ErrRunTerminal
	}
	if r.Status == run.StatusAwaitingApproval {
		return o.settleSuspended(id, errors.New("run cancelled while awaiting approval"))
	}
	o.mu.Lock()
	o.cancelled[id] = true
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) isCancelled(id run.ID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled[id]
}

// Approve resumes a suspended run's publish stage. It resumes exactly
// that stage; nothing upstream is re-run. The check here is only for
// the caller's benefit: the queued job re-claims the run when it
// actually starts, and loses if a reject or cancel got there first.
func (o *Orchestrator) Approve(id run.ID) error {
	if _, err := o.suspendedRun(id); err != nil {
		return err
	}
	o.record(id, event.EventApproved, "manual approval granted")
	o.queue.Enqueue(&job.Job{RunID: id, Do: func(logger log.Logger) error {
		return o.resumePublish(logger, id)
	}})
	return nil
}

// Reject denies a suspended run. Terminal: the run fails, nothing is
// published, the descriptor is untouched.
func (o *Orchestrator) Reject(id run.ID) error {
	rejection := shiperr.NewPipelineError(shiperr.KindPublishRejected, errors.New("manual approval denied"))
	if err := o.settleSuspended(id, rejection); err != nil {
		return err
	}
	o.record(id, event.EventRejected, "manual approval denied")
	return nil
}

func (o *Orchestrator) suspendedRun(id run.ID) (*run.Run, error) {
	r, err := o.runs.Get(id)
	if err != nil {
		return nil, err
	}
	if r.Status != run.StatusAwaitingApproval {
		return nil, errors.Wrapf(ErrNotSuspended, "run %s is %s", id, r.Status)
	}
	return r, nil
}

// claimSuspended atomically takes a run out of awaiting-approval.
// Every consumer of the suspension point comes through here: the
// queued approval job, Reject and Cancel. Whoever claims first wins
// and the rest see ErrNotSuspended, which is what keeps a rejected
// run rejected even with a stale approval job still in the queue.
func (o *Orchestrator) claimSuspended(id run.ID) (*run.Run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, err := o.runs.Get(id)
	if err != nil {
		return nil, err
	}
	if r.Status != run.StatusAwaitingApproval {
		return nil, errors.Wrapf(ErrNotSuspended, "run %s is %s", id, r.Status)
	}
	r.SetStatus(run.StatusRunning)
	if err := o.runs.Save(r); err != nil {
		return nil, err
	}
	return r, nil
}

// settleSuspended fails a suspended run at its manual publish stage.
func (o *Orchestrator) settleSuspended(id run.ID, why error) error {
	r, err := o.claimSuspended(id)
	if err != nil {
		return err
	}
	o.withRun(r, func() {
		r.StartStage(run.StagePushManual)
		r.FinishStage(run.StagePushManual, why)
		r.SkipDownstream(run.StagePushManual)
	})
	o.finishRun(r, run.StatusFailed)
	return nil
}

// execute drives one run from pending to a terminal status, or to the
// manual-approval suspension point.
func (o *Orchestrator) execute(logger log.Logger, id run.ID) error {
	r, err := o.runs.Get(id)
	if err != nil {
		return err
	}
	r.SetStatus(run.StatusRunning)
	if err := o.saveRun(r); err != nil {
		return err
	}

	// test and lint have no dependency relation; run them together
	// and join before build.
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, stage := range []struct {
		name run.StageName
		do   func(context.Context) error
	}{
		{run.StageTest, o.toolchain.Test},
		{run.StageLint, o.toolchain.Lint},
	} {
		wg.Add(1)
		go func(i int, name run.StageName, do func(context.Context) error) {
			defer wg.Done()
			results[i] = o.runStage(logger, r, name, do)
		}(i, stage.name, stage.do)
	}
	wg.Wait()
	for i, name := range []run.StageName{run.StageTest, run.StageLint} {
		if results[i] != nil {
			return o.failRun(logger, r, name, results[i])
		}
	}

	// build
	var artifactRef store.Ref
	if err := o.runStage(logger, r, run.StageBuild, func(ctx context.Context) error {
		artifact, err := o.toolchain.Build(ctx)
		if err != nil {
			return shiperr.NewPipelineError(shiperr.KindBuildFailure, err)
		}
		artifactRef, err = o.artifacts.Put(r.ID, artifact.Name, artifact.Data)
		if err != nil {
			return err
		}
		o.withRun(r, func() { r.Stage(run.StageBuild).ArtifactRef = artifactRef.String() })
		return nil
	}); err != nil {
		return o.failRun(logger, r, run.StageBuild, err)
	}

	// docker_build: image produced and scan executed, or the stage
	// has not succeeded.
	var scanResult scan.Result
	if err := o.runStage(logger, r, run.StageDockerBuild, func(ctx context.Context) error {
		data, err := o.artifacts.Get(artifactRef)
		if err != nil {
			return err
		}
		ref := o.cfg.ImageRepo.ToRef(r.Revision.Tag())
		img, err := o.builder.BuildImage(ctx, data, ref)
		if err != nil {
			return shiperr.NewPipelineError(shiperr.KindBuildFailure, err)
		}
		o.withRun(r, func() { r.Image = &img })

		scanResult, err = o.scanner.Scan(ctx, img, o.cfg.ScanParams)
		if err != nil {
			return err // already a ScannerUnavailable, by the Scanner contract
		}
		img.Outcome = scanResult.Outcome
		o.withRun(r, func() { r.Image = &img })
		return nil
	}); err != nil {
		return o.failRun(logger, r, run.StageDockerBuild, err)
	}

	decision := gate.Decide(scanResult, nil)
	gateDecisions.With(shipmetrics.LabelDecision, string(decision)).Add(1)
	logger.Log("gate", decision, "findings", len(scanResult.Findings))

	switch decision {
	case gate.AutoPublish:
		o.withRun(r, func() {
			r.Stage(run.StagePushManual).Status = run.StageSkipped
		})
		return o.publishAndUpdate(logger, r, run.StagePushAuto)
	case gate.ManualApproval:
		o.withRun(r, func() {
			r.Stage(run.StagePushAuto).Status = run.StageSkipped
			r.SetStatus(run.StatusAwaitingApproval)
		})
		if err := o.saveRun(r); err != nil {
			return err
		}
		o.record(r.ID, event.EventAwaitingApproval,
			fmt.Sprintf("scan found %d qualifying vulnerabilities; publish suspended pending approval", len(scanResult.Findings)))
		logger.Log("status", run.StatusAwaitingApproval)
		return nil
	default:
		// Decide only blocks on a scan error, which failed the stage
		// above; anything else here is a bug worth seeing.
		return o.failRun(logger, r, run.StageDockerBuild, errors.Errorf("unexpected gate decision %q", decision))
	}
}

// resumePublish picks a suspended run back up at its publish stage.
// The claim re-checks the run's status: a reject or cancel that
// landed while this job sat in the queue has already settled the run,
// and the approval is dropped.
func (o *Orchestrator) resumePublish(logger log.Logger, id run.ID) error {
	r, err := o.claimSuspended(id)
	if err != nil {
		if errors.Cause(err) == ErrNotSuspended {
			logger.Log("approval", "dropped", "reason", err)
			return nil
		}
		return err
	}
	return o.publishAndUpdate(logger, r, run.StagePushManual)
}

// publishAndUpdate performs the chosen push stage and then the
// descriptor update. Both have external side effects: cancellation is
// honoured before each one starts, never during.
func (o *Orchestrator) publishAndUpdate(logger log.Logger, r *run.Run, pushStage run.StageName) error {
	if o.isCancelled(r.ID) {
		err := errors.New("run cancelled before publish")
		o.withRun(r, func() { r.FinishStage(pushStage, err) })
		return o.failRun(logger, r, pushStage, err)
	}
	if err := o.runStage(logger, r, pushStage, func(ctx context.Context) error {
		if r.Image == nil {
			return errors.New("no image recorded for run")
		}
		if err := o.pusher.Push(ctx, *r.Image); err != nil {
			return err
		}
		o.record(r.ID, event.EventPublished, fmt.Sprintf("pushed %s", r.Image.Ref.String()))
		return nil
	}); err != nil {
		return o.failRun(logger, r, pushStage, err)
	}

	if o.isCancelled(r.ID) {
		err := errors.New("run cancelled before descriptor update")
		o.withRun(r, func() { r.FinishStage(run.StageUpdateK8s, err) })
		return o.failRun(logger, r, run.StageUpdateK8s, err)
	}
	if err := o.runStage(logger, r, run.StageUpdateK8s, func(ctx context.Context) error {
		res, err := o.updater.Update(ctx, o.cfg.Deployment, r.Image.Ref)
		if err != nil {
			return err
		}
		o.record(r.ID, event.EventDescriptorUpdate,
			fmt.Sprintf("descriptor now %s (%s)", r.Image.Ref.String(), res.Outcome))
		return nil
	}); err != nil {
		return o.failRun(logger, r, run.StageUpdateK8s, err)
	}

	o.finishRun(r, run.StatusSucceeded)
	logger.Log("status", run.StatusSucceeded, "image", r.Image.Ref.String())
	return nil
}

// runStage runs one stage under its configured timeout and records
// the result on the run. The context carries the timeout but no
// external cancellation: cancellation is honoured between stages, and
// a stage that has started runs to completion or failure.
func (o *Orchestrator) runStage(logger log.Logger, r *run.Run, name run.StageName, do func(context.Context) error) error {
	ctx := context.Background()
	var cancel context.CancelFunc = func() {}
	if d := o.cfg.stageTimeout(name); d > 0 {
		ctx, cancel = context.WithTimeout(ctx, d)
	}
	defer cancel()
	o.withRun(r, func() { r.StartStage(name) })
	if serr := o.saveRun(r); serr != nil {
		logger.Log("stage", name, "err", errors.Wrap(serr, "saving run state"))
	}
	start := time.Now()
	err := do(ctx)
	if err == nil && ctx.Err() != nil {
		err = errors.Wrapf(ctx.Err(), "stage %s", name)
	}
	stageDuration.With(shipmetrics.LabelStage, string(name), shipmetrics.LabelSuccess, fmt.Sprint(err == nil)).Observe(time.Since(start).Seconds())
	o.withRun(r, func() { r.FinishStage(name, err) })
	if serr := o.saveRun(r); serr != nil {
		logger.Log("stage", name, "err", errors.Wrap(serr, "saving run state"))
	}
	if err != nil {
		o.record(r.ID, event.EventStageFinished, fmt.Sprintf("stage %s failed: %s", name, err))
		logger.Log("stage", name, "err", err)
	} else {
		o.record(r.ID, event.EventStageFinished, fmt.Sprintf("stage %s succeeded", name))
		logger.Log("stage", name, "status", run.StageSucceeded)
	}
	return err
}

// failRun marks everything downstream of the failed stage skipped and
// the run failed. The stage's own result already carries the error.
func (o *Orchestrator) failRun(logger log.Logger, r *run.Run, failed run.StageName, err error) error {
	o.withRun(r, func() { r.SkipDownstream(failed) })
	o.finishRun(r, run.StatusFailed)
	logger.Log("status", run.StatusFailed, "stage", failed, "err", err)
	return err
}

func (o *Orchestrator) finishRun(r *run.Run, status run.Status) {
	o.withRun(r, func() { r.SetStatus(status) })
	if err := o.saveRun(r); err != nil {
		o.logger.Log("runID", r.ID, "err", errors.Wrap(err, "saving run state"))
	}
	o.artifacts.Release(r.ID)
	o.mu.Lock()
	delete(o.cancelled, r.ID)
	o.mu.Unlock()
	o.record(r.ID, event.EventRunFinished, fmt.Sprintf("run finished %s", status))
}

func (o *Orchestrator) withRun(r *run.Run, fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn()
}

func (o *Orchestrator) saveRun(r *run.Run) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runs.Save(r)
}

func (o *Orchestrator) record(id run.ID, typ, message string) {
	if o.events == nil {
		return
	}
	if err := o.events.Record(event.New(id, typ, message)); err != nil {
		o.logger.Log("event", typ, "err", err)
	}
}
