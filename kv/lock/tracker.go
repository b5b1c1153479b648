package lock

import (
	"fmt"

	"github.com/pingcap-incubator/tinyrecord/kv/schema"
)

// Mode selects how many lock tiers the tracker distinguishes.
type Mode int

const (
	// TriState separates tables that were written (Shared reads) from tables that were explicitly locked (Update
	// reads).
	TriState Mode = iota
	// TwoState is the legacy behavior: any write or explicit lock switches the table to Update reads.
	TwoState
)

func (m Mode) String() string {
	switch m {
	case TriState:
		return "tri-state"
	case TwoState:
		return "two-state"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses the configuration name of a mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "tri-state", "tristate", "":
		return TriState, nil
	case "two-state", "twostate", "legacy":
		return TwoState, nil
	}
	return TriState, fmt.Errorf("lock: unknown locking mode %q", s)
}

// TableState is the lock state of one table within one transaction. States only grow until the transaction ends.
type TableState int

const (
	Unlocked TableState = iota
	Written
	ExplicitlyLocked
)

// WrittenOrLocked is the single escalated state of the two-state mode.
const WrittenOrLocked = Written

func (s TableState) String() string {
	switch s {
	case Unlocked:
		return "Unlocked"
	case Written:
		return "Written"
	case ExplicitlyLocked:
		return "ExplicitlyLocked"
	}
	return fmt.Sprintf("TableState(%d)", int(s))
}

type event int

const (
	eventWrite event = iota
	eventExplicitLock
)

// transitions is the escalation table. A missing entry leaves the state unchanged.
var transitions = map[Mode]map[TableState]map[event]TableState{
	TriState: {
		Unlocked: {eventWrite: Written, eventExplicitLock: ExplicitlyLocked},
		Written:  {eventExplicitLock: ExplicitlyLocked},
	},
	TwoState: {
		Unlocked: {eventWrite: WrittenOrLocked, eventExplicitLock: WrittenOrLocked},
	},
}

// readHints maps a table state to the hint of the next read against the table.
var readHints = map[Mode]map[TableState]Strength{
	TriState: {Unlocked: None, Written: Shared, ExplicitlyLocked: Update},
	TwoState: {Unlocked: None, WrittenOrLocked: Update},
}

// Tracker holds the lock state of every table touched by one transaction. It is owned by a single transaction
// context and is not safe for concurrent use.
type Tracker struct {
	mode   Mode
	states map[schema.TableID]TableState
}

func NewTracker(mode Mode) *Tracker {
	return &Tracker{mode: mode, states: make(map[schema.TableID]TableState)}
}

func (t *Tracker) Mode() Mode {
	return t.mode
}

// State returns the current state of table.
func (t *Tracker) State(table schema.TableID) TableState {
	return t.states[table]
}

// OnRead returns the hint for the next read of table. Reads never change state.
func (t *Tracker) OnRead(table schema.TableID) Strength {
	return readHints[t.mode][t.states[table]]
}

// OnWrite records that table is about to be written in this transaction.
func (t *Tracker) OnWrite(table schema.TableID) {
	t.apply(table, eventWrite)
}

// OnExplicitLock records an explicit lock request for table. In two-state mode it behaves like a write.
func (t *Tracker) OnExplicitLock(table schema.TableID) {
	t.apply(table, eventExplicitLock)
}

// OnTransactionEnd forgets every table state.
func (t *Tracker) OnTransactionEnd() {
	t.states = make(map[schema.TableID]TableState)
}

func (t *Tracker) apply(table schema.TableID, ev event) {
	cur := t.states[table]
	next, ok := transitions[t.mode][cur][ev]
	if !ok || next <= cur {
		return
	}
	t.states[table] = next
}
