package orchestrator

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipd-io/shipd/pkg/build"
	"github.com/shipd-io/shipd/pkg/deploy"
	"github.com/shipd-io/shipd/pkg/event"
	"github.com/shipd-io/shipd/pkg/image"
	"github.com/shipd-io/shipd/pkg/job"
	"github.com/shipd-io/shipd/pkg/run"
	"github.com/shipd-io/shipd/pkg/runstore"
	"github.com/shipd-io/shipd/pkg/scan"
	"github.com/shipd-io/shipd/pkg/store"
	"github.com/shipd-io/shipd/pkg/trigger"
)

const (
	revA = "abc1234000000000000000000000000000000000"
	revB = "def5678000000000000000000000000000000000"
)

const testDescriptor = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: demo-app
spec:
  template:
    spec:
      containers:
        - name: demo-app
          image: ghcr.io/org/repo:sha-initial0
        - name: sidecar
          image: quay.io/other/sidecar:v4
`

type fakeToolchain struct {
	testErr, lintErr, buildErr error
	testCalls                  int32
}

func (f *fakeToolchain) Test(ctx context.Context) error {
	atomic.AddInt32(&f.testCalls, 1)
	return f.testErr
}
func (f *fakeToolchain) Lint(ctx context.Context) error { return f.lintErr }
func (f *fakeToolchain) Build(ctx context.Context) (build.Artifact, error) {
	if f.buildErr != nil {
		return build.Artifact{}, f.buildErr
	}
	return build.Artifact{Name: "context.tar", Data: []byte("tar bits")}, nil
}

type fakeBuilder struct{}

func (fakeBuilder) BuildImage(ctx context.Context, artifact []byte, ref image.Ref) (image.Image, error) {
	return image.Image{Ref: ref, Outcome: image.ScanUnknown}, nil
}

type fakeScanner struct {
	outcome image.ScanOutcome
	err     error
}

func (f *fakeScanner) Scan(ctx context.Context, img image.Image, params scan.Params) (scan.Result, error) {
	if f.err != nil {
		return scan.Result{}, f.err
	}
	res := scan.Result{Outcome: f.outcome}
	if f.outcome == image.ScanVulnerable {
		res.Findings = []scan.Finding{{ID: "CVE-2024-0001", Severity: "HIGH"}}
	}
	return res, nil
}

type fakeRegistry struct {
	mu     sync.Mutex
	pushed []string
}

func (f *fakeRegistry) Push(ctx context.Context, img image.Image) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, img.Ref.String())
	return nil
}

func (f *fakeRegistry) pushes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pushed...)
}

type fixture struct {
	orch       *Orchestrator
	toolchain  *fakeToolchain
	scanner    *fakeScanner
	registry   *fakeRegistry
	descriptor *deploy.MemStore
	runs       runstore.Store
	events     *event.Ring
	stop       chan struct{}
	wg         *sync.WaitGroup
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		toolchain:  &fakeToolchain{},
		scanner:    &fakeScanner{outcome: image.ScanClean},
		registry:   &fakeRegistry{},
		descriptor: deploy.NewMemStore([]byte(testDescriptor)),
		runs:       runstore.NewMemStore(),
		events:     event.NewRing(100),
		stop:       make(chan struct{}),
		wg:         &sync.WaitGroup{},
	}
	logger := log.NewNopLogger()
	cfg := Config{
		Policy: trigger.Policy{
			MainBranch:      "main",
			DescriptorPaths: []string{"deploy/deployment.yaml"},
		},
		ImageRepo:  image.Name{Domain: "ghcr.io", Image: "org/repo"},
		Deployment: "demo-app",
		Workers:    2,
	}
	f.orch = New(cfg, Deps{
		Toolchain: f.toolchain,
		Builder:   fakeBuilder{},
		Scanner:   f.scanner,
		Pusher:    f.registry,
		Updater:   &deploy.Updater{Store: f.descriptor, RegistryHost: "ghcr.io", Retries: 5, Logger: logger},
		Artifacts: store.New(),
		Runs:      f.runs,
		Events:    f.events,
		Logger:    logger,
	}, f.stop, f.wg)
	t.Cleanup(func() {
		close(f.stop)
		f.wg.Wait()
	})
	return f
}

func (f *fixture) submitPush(t *testing.T, rev string) *run.Run {
	r, err := f.orch.Submit(context.Background(), trigger.Event{
		Kind:         trigger.KindPush,
		Branch:       "main",
		Revision:     image.Revision(rev),
		ChangedPaths: []string{"main.go"},
	})
	require.NoError(t, err)
	require.NotNil(t, r)
	return r
}

func (f *fixture) waitFor(t *testing.T, id run.ID, status run.Status) *run.Run {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r, err := f.runs.Get(id)
		require.NoError(t, err)
		if r.Status == status {
			return r
		}
		time.Sleep(5 * time.Millisecond)
	}
	r, _ := f.runs.Get(id)
	t.Fatalf("run %s never reached %s (is %s)", id, status, r.Status)
	return nil
}

func (f *fixture) descriptorContent(t *testing.T) string {
	content, _, err := f.descriptor.Read(context.Background())
	require.NoError(t, err)
	return string(content)
}

func TestCleanScanAutoPublishes(t *testing.T) {
	f := newFixture(t)
	r := f.submitPush(t, revA)
	final := f.waitFor(t, r.ID, run.StatusSucceeded)

	assert.Equal(t, run.StageSucceeded, final.StageStatus(run.StagePushAuto))
	assert.Equal(t, run.StageSkipped, final.StageStatus(run.StagePushManual))
	assert.Equal(t, run.StageSucceeded, final.StageStatus(run.StageUpdateK8s))

	wantRef := "ghcr.io/org/repo:sha-" + revA
	assert.Equal(t, []string{wantRef}, f.registry.pushes())
	assert.Contains(t, f.descriptorContent(t), "image: "+wantRef)
	// unrelated descriptor fields untouched
	assert.Contains(t, f.descriptorContent(t), "image: quay.io/other/sidecar:v4")
}

func TestVulnerableScanSuspendsUntilApproval(t *testing.T) {
	f := newFixture(t)
	f.scanner.outcome = image.ScanVulnerable

	r := f.submitPush(t, revB)
	suspended := f.waitFor(t, r.ID, run.StatusAwaitingApproval)
	assert.Empty(t, f.registry.pushes(), "nothing may be pushed before approval")
	assert.Equal(t, run.StageSkipped, suspended.StageStatus(run.StagePushAuto))

	require.NoError(t, f.orch.Approve(r.ID))
	final := f.waitFor(t, r.ID, run.StatusSucceeded)

	assert.Equal(t, run.StageSucceeded, final.StageStatus(run.StagePushManual))
	assert.Len(t, f.registry.pushes(), 1)
	assert.Contains(t, f.descriptorContent(t), "sha-"+revB)
	// resume means resume: upstream stages do not run again
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.toolchain.testCalls))
}

func TestRejectionFailsRunWithoutPublishing(t *testing.T) {
	f := newFixture(t)
	f.scanner.outcome = image.ScanVulnerable

	r := f.submitPush(t, revB)
	f.waitFor(t, r.ID, run.StatusAwaitingApproval)
	before := f.descriptorContent(t)

	require.NoError(t, f.orch.Reject(r.ID))
	final := f.waitFor(t, r.ID, run.StatusFailed)

	assert.Equal(t, run.StageFailed, final.StageStatus(run.StagePushManual))
	assert.Equal(t, run.StageSkipped, final.StageStatus(run.StageUpdateK8s))
	assert.Empty(t, f.registry.pushes())
	assert.Equal(t, before, f.descriptorContent(t), "descriptor must be untouched")

	// approval signals on a settled run are refused
	assert.Error(t, f.orch.Approve(r.ID))
}

// holdWorkers parks every worker on a job that blocks until the
// returned channel is closed, so signals can land while queued work
// sits still.
func (f *fixture) holdWorkers(id run.ID) chan struct{} {
	block := make(chan struct{})
	for i := 0; i < 2; i++ {
		f.orch.queue.Enqueue(&job.Job{RunID: id, Do: func(log.Logger) error {
			<-block
			return nil
		}})
	}
	return block
}

// assertSettled polls for a while asserting the run stays put; a
// status flip or a push at any point is a failure.
func (f *fixture) assertSettled(t *testing.T, id run.ID, status run.Status, wantPushes int) {
	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		cur, err := f.runs.Get(id)
		require.NoError(t, err)
		require.Equal(t, status, cur.Status)
		require.Len(t, f.registry.pushes(), wantPushes)
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStaleApprovalLosesToRejection(t *testing.T) {
	f := newFixture(t)
	f.scanner.outcome = image.ScanVulnerable

	r := f.submitPush(t, revB)
	f.waitFor(t, r.ID, run.StatusAwaitingApproval)

	// with the workers held, the approval sits in the queue while the
	// rejection lands directly
	block := f.holdWorkers(r.ID)
	require.NoError(t, f.orch.Approve(r.ID))
	require.NoError(t, f.orch.Reject(r.ID))
	f.waitFor(t, r.ID, run.StatusFailed)
	before := f.descriptorContent(t)

	close(block)
	f.assertSettled(t, r.ID, run.StatusFailed, 0)
	assert.Equal(t, before, f.descriptorContent(t), "descriptor must be untouched")
}

func TestDoubleApprovalPushesOnce(t *testing.T) {
	f := newFixture(t)
	f.scanner.outcome = image.ScanVulnerable

	r := f.submitPush(t, revB)
	f.waitFor(t, r.ID, run.StatusAwaitingApproval)

	block := f.holdWorkers(r.ID)
	require.NoError(t, f.orch.Approve(r.ID))
	require.NoError(t, f.orch.Approve(r.ID))
	close(block)

	f.waitFor(t, r.ID, run.StatusSucceeded)
	f.assertSettled(t, r.ID, run.StatusSucceeded, 1)
	assert.Len(t, f.descriptor.Messages(), 1, "one approval, one commit")
}

func TestCancelSettlesSuspendedRun(t *testing.T) {
	f := newFixture(t)
	f.scanner.outcome = image.ScanVulnerable

	r := f.submitPush(t, revB)
	f.waitFor(t, r.ID, run.StatusAwaitingApproval)

	require.NoError(t, f.orch.Cancel(r.ID))
	final := f.waitFor(t, r.ID, run.StatusFailed)

	assert.Equal(t, run.StageFailed, final.StageStatus(run.StagePushManual))
	assert.Empty(t, f.registry.pushes())
	assert.Error(t, f.orch.Approve(r.ID))

	pending, err := f.runs.PendingApproval()
	require.NoError(t, err)
	assert.Empty(t, pending, "a cancelled run is nobody's decision to make")
}

func TestScannerUnavailableBlocksPublish(t *testing.T) {
	f := newFixture(t)
	f.scanner.err = scan.ErrScannerUnavailable

	r := f.submitPush(t, revA)
	final := f.waitFor(t, r.ID, run.StatusFailed)

	assert.Equal(t, run.StageFailed, final.StageStatus(run.StageDockerBuild))
	assert.Equal(t, run.StageSkipped, final.StageStatus(run.StagePushAuto))
	assert.Equal(t, run.StageSkipped, final.StageStatus(run.StagePushManual))
	assert.Empty(t, f.registry.pushes())
}

func TestFailingTestSkipsEverythingDownstream(t *testing.T) {
	f := newFixture(t)
	f.toolchain.testErr = errors.New("2 tests failed")

	r := f.submitPush(t, revA)
	final := f.waitFor(t, r.ID, run.StatusFailed)

	assert.Equal(t, run.StageFailed, final.StageStatus(run.StageTest))
	for _, name := range []run.StageName{run.StageBuild, run.StageDockerBuild, run.StagePushAuto, run.StagePushManual, run.StageUpdateK8s} {
		assert.Equal(t, run.StageSkipped, final.StageStatus(name), string(name))
	}
	assert.Contains(t, final.Stage(run.StageTest).Error, "2 tests failed")
}

func TestDescriptorCommitDoesNotRetrigger(t *testing.T) {
	f := newFixture(t)

	const n = 3
	revisions := []string{revA, revB, "aaaa111100000000000000000000000000000000"}
	for i := 0; i < n; i++ {
		r := f.submitPush(t, revisions[i])
		f.waitFor(t, r.ID, run.StatusSucceeded)

		// the updater's own commit arrives back as a push event whose
		// only changed path is the descriptor
		echo, err := f.orch.Submit(context.Background(), trigger.Event{
			Kind:         trigger.KindPush,
			Branch:       "main",
			Revision:     image.Revision(revisions[i]),
			ChangedPaths: []string{"deploy/deployment.yaml"},
		})
		require.NoError(t, err)
		assert.Nil(t, echo, "descriptor commit must not create a run")
	}

	all, err := f.runs.List()
	require.NoError(t, err)
	assert.Len(t, all, n, "exactly one run per real revision")
}

func TestConcurrentRunsBothCommit(t *testing.T) {
	f := newFixture(t)

	ra := f.submitPush(t, revA)
	rb := f.submitPush(t, revB)
	f.waitFor(t, ra.ID, run.StatusSucceeded)
	f.waitFor(t, rb.ID, run.StatusSucceeded)

	assert.Len(t, f.registry.pushes(), 2)
	assert.Len(t, f.descriptor.Messages(), 2, "both runs must land a commit")

	content := f.descriptorContent(t)
	last := "sha-" + revA
	if strings.Contains(content, "sha-"+revB) {
		last = "sha-" + revB
	}
	assert.Contains(t, content, "image: ghcr.io/org/repo:"+last)
	assert.Contains(t, content, "image: quay.io/other/sidecar:v4", "unrelated entries survive the race")
}

func TestSubmitRejectsOffMainPush(t *testing.T) {
	f := newFixture(t)
	r, err := f.orch.Submit(context.Background(), trigger.Event{
		Kind:     trigger.KindPush,
		Branch:   "feature/x",
		Revision: image.Revision(revA),
	})
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestSubmitRejectsBadRevision(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Submit(context.Background(), trigger.Event{
		Kind:     trigger.KindPush,
		Branch:   "main",
		Revision: "not hex!",
	})
	assert.Error(t, err)
}

func TestEventsTellTheRunStory(t *testing.T) {
	f := newFixture(t)
	r := f.submitPush(t, revA)
	f.waitFor(t, r.ID, run.StatusSucceeded)

	types := map[string]bool{}
	for _, e := range f.events.For(r.ID) {
		types[e.Type] = true
	}
	for _, want := range []string{event.EventRunCreated, event.EventPublished, event.EventDescriptorUpdate, event.EventRunFinished} {
		assert.True(t, types[want], want)
	}
}
