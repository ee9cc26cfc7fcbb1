package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/shipd-io/shipd/pkg/api"
	"github.com/shipd-io/shipd/pkg/build"
	"github.com/shipd-io/shipd/pkg/deploy"
	"github.com/shipd-io/shipd/pkg/event"
	"github.com/shipd-io/shipd/pkg/image"
	"github.com/shipd-io/shipd/pkg/orchestrator"
	"github.com/shipd-io/shipd/pkg/registry"
	"github.com/shipd-io/shipd/pkg/run"
	"github.com/shipd-io/shipd/pkg/runstore"
	"github.com/shipd-io/shipd/pkg/scan"
	"github.com/shipd-io/shipd/pkg/store"
	"github.com/shipd-io/shipd/pkg/trigger"
)

func main() {
	// Flag domain.
	fs := pflag.NewFlagSet("default", pflag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "DESCRIPTION\n")
		fmt.Fprintf(os.Stderr, "  shipd is a release pipeline daemon.\n")
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		fs.PrintDefaults()
	}
	var (
		listenAddr = fs.StringP("listen", "l", ":3030", "listen address for the shipd API")
		stateDir   = fs.String("state-dir", "/var/lib/shipd", "directory for persisted run state")

		mainBranch      = fs.String("main-branch", "main", "branch whose pushes (and targeting pull requests) run the pipeline")
		descriptorPaths = fs.StringSlice("descriptor-path", []string{"deploy/deployment.yaml"}, "path glob(s) of the deployment descriptor; pushes touching only these do not trigger")

		imageRepo  = fs.String("image-repo", "", "image repository for built images, e.g. ghcr.io/org/repo")
		deployment = fs.String("deployment", "", "logical deployment name in the descriptor")

		sourceDir = fs.String("source-dir", ".", "source checkout the toolchain runs in")
		testCmd   = fs.String("test-cmd", "go test ./...", "command for the test stage")
		lintCmd   = fs.String("lint-cmd", "golangci-lint run", "command for the lint stage")
		buildCmd  = fs.String("build-cmd", "", "command for the build stage")
		buildOut  = fs.String("build-out", "build/context.tar", "build output path, relative to --source-dir")

		dockerHost       = fs.String("docker-host", "", "docker engine address; empty means use the environment")
		registryUser     = fs.String("registry-user", "", "registry username for pushes")
		registryPassword = fs.String("registry-password", "", "registry password for pushes")
		pushRetries      = fs.Int("push-retries", 2, "automatic retries for transient registry push failures")
		pushBackoff      = fs.Duration("push-backoff", 5*time.Second, "backoff between push retries")

		scannerBinary = fs.String("scanner", "trivy", "vulnerability scanner binary")
		severity      = fs.String("severity-threshold", "HIGH", "minimum severity that counts as a finding")
		ignoreUnfixed = fs.Bool("ignore-unfixed", true, "ignore findings with no fixed version")

		deployRepoURL    = fs.String("deploy-repo", "", "git URL of the repo holding the deployment descriptor")
		deployBranch     = fs.String("deploy-branch", "main", "branch of the deploy repo to commit to")
		deployPath       = fs.String("deploy-path", "deploy/deployment.yaml", "descriptor path within the deploy repo")
		gitUser          = fs.String("git-user", "shipd", "commit author name")
		gitEmail         = fs.String("git-email", "shipd@users.noreply.github.com", "commit author email")
		updateRetries    = fs.Int("update-retries", 5, "read-modify-write retries for descriptor commit conflicts")
		stageTimeout     = fs.Duration("stage-timeout", 15*time.Minute, "default per-stage timeout")
		pushStageTimeout = fs.Duration("push-stage-timeout", 10*time.Minute, "timeout for registry push stages")
		workers          = fs.Int("workers", 2, "how many runs may execute concurrently")
	)
	fs.Parse(os.Args[1:])

	// Logger domain.
	var logger log.Logger
	{
		logger = log.NewLogfmtLogger(os.Stderr)
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
	}

	repo, err := image.ParseRef(*imageRepo)
	if err != nil || repo.Domain == "" {
		logger.Log("flag", "image-repo", "err", "must be a registry-qualified repository, e.g. ghcr.io/org/repo")
		os.Exit(1)
	}
	if *deployment == "" || *deployRepoURL == "" {
		logger.Log("err", "--deployment and --deploy-repo are required")
		os.Exit(1)
	}

	// Run state.
	runs, err := runstore.NewFileStore(*stateDir)
	if err != nil {
		logger.Log("component", "runstore", "err", err)
		os.Exit(1)
	}

	// Docker component: builds images and pushes them.
	var docker *build.Docker
	{
		logger := log.With(logger, "component", "docker")
		docker, err = build.NewDocker(build.DockerConfig{
			Host:     *dockerHost,
			Username: *registryUser,
			Password: *registryPassword,
		}, logger)
		if err != nil {
			logger.Log("err", err)
			os.Exit(1)
		}
	}

	toolchain := &build.ExecToolchain{
		Dir:      *sourceDir,
		TestCmd:  strings.Fields(*testCmd),
		LintCmd:  strings.Fields(*lintCmd),
		BuildCmd: strings.Fields(*buildCmd),
		BuildOut: *buildOut,
		Logger:   log.With(logger, "component", "toolchain"),
	}

	scanner := &scan.ExecScanner{
		Binary: *scannerBinary,
		Logger: log.With(logger, "component", "scanner"),
	}

	updater := &deploy.Updater{
		Store: &deploy.GitStore{
			URL:       *deployRepoURL,
			Branch:    *deployBranch,
			Path:      *deployPath,
			UserName:  *gitUser,
			UserEmail: *gitEmail,
		},
		RegistryHost: repo.Domain,
		Retries:      *updateRetries,
		Logger:       log.With(logger, "component", "updater"),
	}

	events := event.NewRing(1000)
	artifacts := store.New()

	stop := make(chan struct{})
	wg := &sync.WaitGroup{}

	orch := orchestrator.New(orchestrator.Config{
		Policy: trigger.Policy{
			MainBranch:      *mainBranch,
			DescriptorPaths: *descriptorPaths,
		},
		ImageRepo:  repo.Name,
		Deployment: *deployment,
		ScanParams: scan.Params{
			SeverityThreshold: *severity,
			IgnoreUnfixed:     *ignoreUnfixed,
		},
		StageTimeouts: map[run.StageName]time.Duration{
			run.StageTest:        *stageTimeout,
			run.StageLint:        *stageTimeout,
			run.StageBuild:       *stageTimeout,
			run.StageDockerBuild: *stageTimeout,
			run.StagePushAuto:    *pushStageTimeout,
			run.StagePushManual:  *pushStageTimeout,
			run.StageUpdateK8s:   *stageTimeout,
		},
		Workers: *workers,
	}, orchestrator.Deps{
		Toolchain: toolchain,
		Builder:   docker,
		Scanner:   scanner,
		Pusher: &registry.RetryingPusher{
			Registry: docker,
			Retries:  *pushRetries,
			Backoff:  *pushBackoff,
			Logger:   log.With(logger, "component", "pusher"),
		},
		Updater:   updater,
		Artifacts: artifacts,
		Runs:      runs,
		Events:    events,
		Logger:    log.With(logger, "component", "orchestrator"),
	}, stop, wg)

	if pending, err := runs.PendingApproval(); err == nil && len(pending) > 0 {
		logger.Log("info", "runs awaiting approval survived restart", "count", len(pending))
	}

	// HTTP component.
	server := &api.Server{
		Orchestrator: orch,
		Runs:         runs,
		Events:       events,
		Logger:       log.With(logger, "component", "api"),
	}
	router := server.Router()
	router.Handle("/metrics", promhttp.Handler())

	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()
	go func() {
		logger.Log("addr", *listenAddr)
		errc <- http.ListenAndServe(*listenAddr, router)
	}()

	logger.Log("exiting", <-errc)
	close(stop)
	wg.Wait()
}
