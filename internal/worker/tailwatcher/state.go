// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package tailwatcher

// State is a step of the watcher's cursor cycle.
type State string

const (
	StateWaitingForConnection State = "waiting-for-connection"
	StateProvisioning         State = "provisioning"
	StateTailing              State = "tailing"
	StateCursorDead           State = "cursor-dead"
)

// AllStates lists every state, in cycle order.
var AllStates = []State{
	StateWaitingForConnection,
	StateProvisioning,
	StateTailing,
	StateCursorDead,
}
