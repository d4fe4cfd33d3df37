package mirror

// State is the lifecycle state of a [Task].
type State uint8

//go:generate go tool stringer -type=State

// A Task starts Idle, is Running for the duration of a run, and ends each run
// in either Completed or Failed.
const (
	Idle State = iota
	Running
	Completed
	Failed
)
