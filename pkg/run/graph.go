package run

// StageName names one unit of work in the fixed pipeline topology.
type StageName string

const (
	StageTest        StageName = "test"
	StageLint        StageName = "lint"
	StageBuild       StageName = "build"
	StageDockerBuild StageName = "docker_build"
	StagePushAuto    StageName = "docker_push_auto"
	StagePushManual  StageName = "docker_push_manual"
	StageUpdateK8s   StageName = "update-k8s"
)

// AllStages in a stable order, used when laying out a new run.
var AllStages = []StageName{
	StageTest,
	StageLint,
	StageBuild,
	StageDockerBuild,
	StagePushAuto,
	StagePushManual,
	StageUpdateK8s,
}

// predecessors declares the needs-graph. A stage may start only when
// all its predecessors have succeeded; the two push stages are
// mutually exclusive branches, so update-k8s lists both and the
// orchestrator counts whichever one ran.
var predecessors = map[StageName][]StageName{
	StageTest:        nil,
	StageLint:        nil,
	StageBuild:       {StageTest, StageLint},
	StageDockerBuild: {StageBuild},
	StagePushAuto:    {StageDockerBuild},
	StagePushManual:  {StageDockerBuild},
	StageUpdateK8s:   {StagePushAuto, StagePushManual},
}

// Predecessors returns the declared predecessors of a stage.
func Predecessors(name StageName) []StageName {
	return predecessors[name]
}

// Downstream returns every stage reachable from name through the
// needs-graph, i.e. the stages that cannot run once name has failed.
func Downstream(name StageName) []StageName {
	var out []StageName
	seen := map[StageName]bool{}
	var walk func(StageName)
	walk = func(from StageName) {
		for stage, needs := range predecessors {
			for _, need := range needs {
				if need == from && !seen[stage] {
					seen[stage] = true
					out = append(out, stage)
					walk(stage)
				}
			}
		}
	}
	walk(name)
	return out
}
