/*
status.go - Loan state machine

PURPOSE:
  Declares every loan status, every action that can move a loan, and the
  single transition table that decides which moves are legal. No other
  code compares status strings to decide what may happen next.

STATE GRAPH:

  Applied ──▶ ManagerApproved ──▶ HrVerified ──▶ FinanceSanctioned
     │              │                 │                 │
     └──────────────┴────────┬────────┘                 ▼
                             ▼                      Disbursed ──▶ Active ──▶ Closed
                          Rejected

  Applied is initial. Closed and Rejected are terminal.

APPROVAL CHAIN:
  Level 1: direct manager decides on Applied
  Level 2: HR decides on ManagerApproved
  Level 3: Finance decides on HrVerified (may change the sanctioned principal)
  Finance disburses a FinanceSanctioned loan.

SEE ALSO:
  - workflow.go: Applies transitions with compare-and-swap persistence
  - repayment.go: Disbursed -> Active -> Closed driven by payroll
*/
package loan

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusApplied           Status = "applied"
	StatusManagerApproved   Status = "manager_approved"
	StatusHrVerified        Status = "hr_verified"
	StatusFinanceSanctioned Status = "finance_sanctioned"
	StatusDisbursed         Status = "disbursed"
	StatusActive            Status = "active"
	StatusClosed            Status = "closed"
	StatusRejected          Status = "rejected"
)

// AllStatuses lists the statuses in lifecycle order.
var AllStatuses = []Status{
	StatusApplied,
	StatusManagerApproved,
	StatusHrVerified,
	StatusFinanceSanctioned,
	StatusDisbursed,
	StatusActive,
	StatusClosed,
	StatusRejected,
}

var statusRank = map[Status]int{
	StatusApplied:           0,
	StatusManagerApproved:   1,
	StatusHrVerified:        2,
	StatusFinanceSanctioned: 3,
	StatusDisbursed:         4,
	StatusActive:            5,
	StatusClosed:            6,
	StatusRejected:          6,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank orders statuses along the lifecycle. Every legal transition
// strictly increases the rank.
func (s Status) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusRejected
}

// Disbursed reports whether money has left the company, i.e. the schedule
// and outstanding balance are authoritative.
func (s Status) Disbursed() bool {
	return s == StatusDisbursed || s == StatusActive || s == StatusClosed
}

// Repayable reports whether payroll should look for installments on the loan.
func (s Status) Repayable() bool {
	return s == StatusDisbursed || s == StatusActive
}

// =============================================================================
// ACTIONS & TRANSITION TABLE
// =============================================================================

type Action string

const (
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionDisburse Action = "disburse"
	ActionRepay    Action = "repay" // first payroll recovery
	ActionClose    Action = "close"

	// ActionWaive settles an installment. It never moves the loan by itself;
	// the closure rule decides whether the loan closes afterwards.
	ActionWaive Action = "waive"
)

var transitions = map[Status]map[Action]Status{
	StatusApplied: {
		ActionApprove: StatusManagerApproved,
		ActionReject:  StatusRejected,
	},
	StatusManagerApproved: {
		ActionApprove: StatusHrVerified,
		ActionReject:  StatusRejected,
	},
	StatusHrVerified: {
		ActionApprove: StatusFinanceSanctioned,
		ActionReject:  StatusRejected,
	},
	StatusFinanceSanctioned: {
		ActionDisburse: StatusDisbursed,
	},
	StatusDisbursed: {
		ActionRepay: StatusActive,
	},
	StatusActive: {
		ActionClose: StatusClosed,
	},
}

// Transition returns the status reached by applying action in from.
// Illegal moves return a *TransitionError.
func Transition(from Status, action Action) (Status, error) {
	to, ok := transitions[from][action]
	if !ok {
		return from, &TransitionError{From: from, Action: action}
	}
	return to, nil
}

// CanTransition reports whether action is legal in from.
func CanTransition(from Status, action Action) bool {
	_, ok := transitions[from][action]
	return ok
}

// =============================================================================
// APPROVAL STAGES
// =============================================================================

// Stage describes one step of the approval chain.
type Stage struct {
	Level ApprovalLevel
	From  Status // status the loan must be in
	Role  Role   // role allowed to decide
}

var stages = map[ApprovalLevel]Stage{
	LevelManager: {Level: LevelManager, From: StatusApplied, Role: RoleManager},
	LevelHR:      {Level: LevelHR, From: StatusManagerApproved, Role: RoleHR},
	LevelFinance: {Level: LevelFinance, From: StatusHrVerified, Role: RoleFinance},
}

// StageFor returns the approval stage for a level.
func StageFor(level ApprovalLevel) (Stage, bool) {
	s, ok := stages[level]
	return s, ok
}

// PendingStage returns the stage currently waiting for a decision on a loan
// in status s, if any.
func PendingStage(s Status) (Stage, bool) {
	for _, st := range stages {
		if st.From == s {
			return st, true
		}
	}
	return Stage{}, false
}

// Action maps a decision to the state-machine action.
func (d Decision) Action() Action {
	if d == DecisionRejected {
		return ActionReject
	}
	return ActionApprove
}

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected
}
