package metrics

/*
Labels and so on for metrics used in shipd.
*/

const (
	LabelMethod  = "method"
	LabelSuccess = "success"

	// Labels for pipeline metrics
	LabelStage    = "stage"
	LabelDecision = "decision"
	LabelTrigger  = "trigger"
)
