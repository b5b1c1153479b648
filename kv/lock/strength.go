// Package lock defines the isolation hints the record layer asks the store for, and the per-transaction state
// machine that picks a hint for every read of a table.
package lock

import "fmt"

// Strength is the concurrency-control strength of a read or write request, from weakest to strongest.
//
// Compatibility matrix (X = the two strengths cannot be held on the same row by different sessions):
//
//  +-----------+--------+--------+--------+-----------+
//  |           |  None  | Shared | Update | Exclusive |
//  +-----------+--------+--------+--------+-----------+
//  | None      |        |        |        |           |
//  | Shared    |        |        |   X    |     X     |
//  | Update    |        |   X    |   X    |     X     |
//  | Exclusive |        |   X    |   X    |     X     |
//  +-----------+--------+--------+--------+-----------+
//
// None reads are READUNCOMMITTED: they take no locks and are never blocked.
type Strength int

const (
	None Strength = iota
	Shared
	Update
	Exclusive
)

func (s Strength) String() string {
	switch s {
	case None:
		return "None"
	case Shared:
		return "Shared"
	case Update:
		return "Update"
	case Exclusive:
		return "Exclusive"
	}
	return fmt.Sprintf("Strength(%d)", int(s))
}

// IsolationLevel returns the SQL isolation level name the strength corresponds to.
func (s Strength) IsolationLevel() string {
	switch s {
	case None:
		return "READUNCOMMITTED"
	case Shared:
		return "READCOMMITTED"
	case Update:
		return "UPDLOCK"
	case Exclusive:
		return "XLOCK"
	}
	return ""
}

var compatibility = [4][4]bool{
	None:      {None: true, Shared: true, Update: true, Exclusive: true},
	Shared:    {None: true, Shared: true, Update: false, Exclusive: false},
	Update:    {None: true, Shared: false, Update: false, Exclusive: false},
	Exclusive: {None: true, Shared: false, Update: false, Exclusive: false},
}

// Compatible reports whether a and b can be held on the same row by two different sessions at once.
func Compatible(a, b Strength) bool {
	if a < None || a > Exclusive || b < None || b > Exclusive {
		return false
	}
	return compatibility[a][b]
}

// Max returns the stronger of a and b.
func Max(a, b Strength) Strength {
	if a > b {
		return a
	}
	return b
}
