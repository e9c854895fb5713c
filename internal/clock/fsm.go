package clock

// This file implements the tag_pending state machine as a pure
// transition table: no side effects, easy to audit against the prose
// description.
//
// States: IDLE, PENDING.
// IDLE --(NET sent, upstream present)--> PENDING
// PENDING --(TAG received)---------------> IDLE

// tagPendingState is the state of the tag_pending state machine.
type tagPendingState uint8

const (
	tagPendingIdle tagPendingState = iota
	tagPendingWaiting
)

// tagPendingEvent is an event applied to the tag_pending state machine.
type tagPendingEvent uint8

const (
	eventNetSent tagPendingEvent = iota
	eventTagReceived
)

// tagPendingTable is the complete transition table. Pairs absent from the
// table leave the state unchanged (e.g. a TAG arriving while already
// IDLE, or a second NET sent while PENDING, are both self-loops).
var tagPendingTable = map[tagPendingState]map[tagPendingEvent]tagPendingState{
	tagPendingIdle: {
 eventNetSent: tagPendingWaiting,
	},
	tagPendingWaiting: {
 eventTagReceived: tagPendingIdle,
	},
}

// applyTagPendingEvent returns the next tag_pending state for the given
// event, or the unchanged state if the pair has no transition.
func applyTagPendingEvent(state tagPendingState, event tagPendingEvent) tagPendingState {
	if next, ok := tagPendingTable[state][event]; ok {
 return next
	}
	return state
}
