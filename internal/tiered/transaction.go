package tiered

import (
	"fmt"

	"github.com/maruel/ksid"

	"github.com/maruel/avatardb/internal/record"
)

// Operation is a catalogue mutation.
type Operation string

// Operations.
const (
	OpAdd    Operation = "add"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// State is the lifecycle state of a write transaction.
type State int

// States. Synced, CommittedWithWarning and Aborted are terminal.
const (
	StatePending State = iota
	StateCommitted
	StateSynced
	StateCommittedWithWarning
	StateAborted
)

var stateNames = [...]string{"pending", "committed", "synced", "committed_with_warning", "aborted"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSynced || s == StateCommittedWithWarning || s == StateAborted
}

var transitions = map[State][]State{
	StatePending:   {StateCommitted, StateAborted},
	StateCommitted: {StateSynced, StateCommittedWithWarning},
}

// Asset is the binary attached to a record.
type Asset struct {
	Data        []byte
	ContentType string
}

// Transaction tracks one write through the pipeline.
type Transaction struct {
	ID        ksid.ID
	Operation Operation
	Language  string
	RecordID  string
	Before    *record.Record
	After     *record.Record
	Asset     *Asset
	State     State
	// Revision is the source revision produced by the commit.
	Revision string
	Warning  string
}

func newTransaction(op Operation, lang, id string, asset *Asset) *Transaction {
	return &Transaction{ID: ksid.NewID(), Operation: op, Language: lang, RecordID: id, Asset: asset}
}

// advance moves the transaction to state to. Illegal transitions are
// programming errors.
func (tx *Transaction) advance(to State) error {
	for _, s := range transitions[tx.State] {
		if s == to {
			tx.State = to
			return nil
		}
	}
	return fmt.Errorf("transaction %s: illegal transition %s -> %s", tx.ID, tx.State, to)
}

// Result is the outcome of a write. State is one of the terminal states.
type Result struct {
	Tx    *Transaction
	State State
	// AssetSynced is true when the asset put or delete succeeded.
	AssetSynced bool
	Warning     string
}
