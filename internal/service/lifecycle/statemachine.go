package lifecycle

import (
	"errors"

	"github.com/aimd54/guild-quest-board/internal/models"
)

// Action is a lifecycle transition trigger.
type Action string

// Transition actions.
const (
	ActionAccept  Action = "accept"
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Transition errors.
var (
	// ErrIllegalTransition means the (state, action) pair is not in the
	// transition table. It signals an ordering bug or a duplicate
	// delivery, not a user mistake.
	ErrIllegalTransition = errors.New("lifecycle: illegal transition")

	// ErrInvalidSubmission means a completion submission carried no
	// proof text and no attachment references.
	ErrInvalidSubmission = errors.New("lifecycle: empty submission")
)

// transitions is the complete table. Every pair absent here is
// illegal; there is no default case to fall through.
var transitions = map[models.State]map[Action]models.State{
	models.StateNone: {
		ActionAccept: models.StateAccepted,
	},
	models.StateAccepted: {
		ActionSubmit: models.StateCompleted,
	},
	models.StateCompleted: {
		ActionApprove: models.StateApproved,
		ActionReject:  models.StateRejected,
	},
}

// Next returns the state the action leads to from the current state,
// or ErrIllegalTransition. Pure and total over all (state, action)
// pairs.
func Next(state models.State, action Action) (models.State, error) {
	next, ok := transitions[state][action]
	if !ok {
		return state, ErrIllegalTransition
	}
	return next, nil
}

// Submission is the payload attached to a completion.
type Submission struct {
	Text string   `json:"text"`
	URLs []string `json:"urls"`
}

// Validate checks that the submission carries some proof.
func (s Submission) Validate() error {
	if s.Text == "" && len(s.URLs) == 0 {
		return ErrInvalidSubmission
	}
	return nil
}
