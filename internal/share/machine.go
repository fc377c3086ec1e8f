package share

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is wrapped by every transition rejection. A rejected
// transition indicates a programming or data-integrity bug, never an
// environmental failure, so callers let it propagate.
var ErrInvalidTransition = errors.New("invalid state transition")

// InvalidTransitionError reports an action applied to a state it cannot leave.
type InvalidTransitionError struct {
	Action Action
	From   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("action %s not allowed from state %s", e.Action, e.From)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// transition maps each reachable target state to the source states allowed to
// enter it. One transition handles one action.
type transition[S comparable] map[S][]S

// apply resolves the next state for current. A current state that already is
// a target is a no-op (the operation was re-delivered; state stays put). A
// current state that is neither a target nor a listed source is rejected.
func (t transition[S]) apply(action Action, current S) (S, error) {
	if _, isTarget := t[current]; isTarget {
		return current, nil
	}
	for target, sources := range t {
		for _, source := range sources {
			if source == current {
				return target, nil
			}
		}
	}
	var zero S
	return zero, &InvalidTransitionError{Action: action, From: fmt.Sprintf("%v", current)}
}

// objectTransitions is the ShareObject transition table.
var objectTransitions = map[Action]transition[ObjectStatus]{
	ActionSubmit: {
		ObjectSubmitted: {ObjectDraft, ObjectRejected},
	},
	ActionApprove: {
		ObjectApproved: {ObjectSubmitted},
	},
	ActionReject: {
		ObjectRejected: {ObjectSubmitted},
	},
	ActionRevokeItems: {
		ObjectRevoked: {ObjectDraft, ObjectSubmitted, ObjectRejected, ObjectProcessed},
	},
	ActionStart: {
		ObjectShareInProgress:  {ObjectApproved},
		ObjectRevokeInProgress: {ObjectRevoked},
	},
	ActionFinish: {
		ObjectProcessed: {ObjectShareInProgress, ObjectRevokeInProgress},
	},
	ActionFinishPending: {
		ObjectDraft: {ObjectRevokeInProgress},
	},
	ActionAcquireLockFailure: {
		ObjectProcessed: {ObjectShareInProgress, ObjectRevokeInProgress},
	},
	ActionAddItem: {
		ObjectDraft: {ObjectSubmitted, ObjectRejected, ObjectProcessed},
	},
	ActionDelete: {
		ObjectDeleted: {ObjectDraft, ObjectSubmitted, ObjectRejected, ObjectProcessed},
	},
}

// itemTransitions is the ShareObjectItem transition table. Several actions
// list self-loops for states the action must tolerate unchanged: when a whole
// share is submitted or approved again, items already past that point keep
// their status.
var itemTransitions = map[Action]transition[ItemStatus]{
	ActionAddItem: {
		ItemPendingApproval: {ItemDeleted},
	},
	ActionSubmit: {
		ItemPendingApproval:  {ItemShareRejected, ItemShareFailed},
		ItemShareApproved:    {ItemShareApproved},
		ItemShareSucceeded:   {ItemShareSucceeded},
		ItemShareInProgress:  {ItemShareInProgress},
		ItemRevokeApproved:   {ItemRevokeApproved},
		ItemRevokeFailed:     {ItemRevokeFailed},
		ItemRevokeSucceeded:  {ItemRevokeSucceeded},
		ItemRevokeInProgress: {ItemRevokeInProgress},
	},
	ActionApprove: {
		ItemShareApproved:    {ItemPendingApproval},
		ItemShareSucceeded:   {ItemShareSucceeded},
		ItemShareInProgress:  {ItemShareInProgress},
		ItemRevokeApproved:   {ItemRevokeApproved},
		ItemRevokeFailed:     {ItemRevokeFailed},
		ItemRevokeSucceeded:  {ItemRevokeSucceeded},
		ItemRevokeInProgress: {ItemRevokeInProgress},
	},
	ActionReject: {
		ItemShareRejected:    {ItemPendingApproval},
		ItemShareSucceeded:   {ItemShareSucceeded},
		ItemShareInProgress:  {ItemShareInProgress},
		ItemRevokeApproved:   {ItemRevokeApproved},
		ItemRevokeFailed:     {ItemRevokeFailed},
		ItemRevokeSucceeded:  {ItemRevokeSucceeded},
		ItemRevokeInProgress: {ItemRevokeInProgress},
	},
	ActionRevokeItems: {
		ItemRevokeApproved: {ItemShareSucceeded, ItemRevokeFailed, ItemRevokeApproved},
	},
	ActionStart: {
		ItemShareInProgress:  {ItemShareApproved},
		ItemRevokeInProgress: {ItemRevokeApproved},
	},
	ActionSuccess: {
		ItemShareSucceeded:  {ItemShareInProgress},
		ItemRevokeSucceeded: {ItemRevokeInProgress},
	},
	ActionFailure: {
		ItemShareFailed:  {ItemShareInProgress, ItemShareApproved},
		ItemRevokeFailed: {ItemRevokeInProgress, ItemRevokeApproved},
	},
	ActionAcquireLockFailure: {
		ItemShareFailed:  {ItemShareApproved},
		ItemRevokeFailed: {ItemRevokeApproved},
	},
	ActionRemoveItem: {
		ItemDeleted: {ItemPendingApproval, ItemShareRejected, ItemShareFailed, ItemRevokeSucceeded},
	},
	ActionDelete: {
		ItemDeleted: {ItemPendingApproval, ItemShareRejected, ItemShareFailed, ItemRevokeSucceeded},
	},
}

// ObjectMachine resolves share-level transitions.
type ObjectMachine struct {
	state ObjectStatus
}

// NewObjectMachine starts a machine at the share's persisted status.
func NewObjectMachine(state ObjectStatus) *ObjectMachine {
	return &ObjectMachine{state: state}
}

// State returns the machine's current state.
func (m *ObjectMachine) State() ObjectStatus { return m.state }

// Run resolves the action against the current state and advances the machine.
// The returned state must be persisted in the same unit of work: a transition
// is not decided until it is durably applied.
func (m *ObjectMachine) Run(action Action) (ObjectStatus, error) {
	table, ok := objectTransitions[action]
	if !ok {
		return "", &InvalidTransitionError{Action: action, From: string(m.state)}
	}
	next, err := table.apply(action, m.state)
	if err != nil {
		return "", err
	}
	m.state = next
	return next, nil
}

// ItemMachine resolves item-level transitions. One machine instance drives a
// batch of items that share a status.
type ItemMachine struct {
	state ItemStatus
}

// NewItemMachine starts a machine at the items' persisted status.
func NewItemMachine(state ItemStatus) *ItemMachine {
	return &ItemMachine{state: state}
}

// State returns the machine's current state.
func (m *ItemMachine) State() ItemStatus { return m.state }

// Run resolves the action against the current state and advances the machine.
func (m *ItemMachine) Run(action Action) (ItemStatus, error) {
	table, ok := itemTransitions[action]
	if !ok {
		return "", &InvalidTransitionError{Action: action, From: string(m.state)}
	}
	next, err := table.apply(action, m.state)
	if err != nil {
		return "", err
	}
	m.state = next
	return next, nil
}
