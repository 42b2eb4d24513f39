package scan

// State is a stage of the run state machine
type State string

const (
	StateConfigured State = "CONFIGURED"
	StateFetching   State = "FETCHING"
	StateFiltering  State = "FILTERING"
	StateAnalyzing  State = "ANALYZING"
	StateScoring    State = "SCORING"
	StateEmitted    State = "EMITTED"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)
