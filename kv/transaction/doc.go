package transaction

// The transaction package implements the process-local side of a tinyrecord transaction. A transaction spans every
// read and write a logical operation makes through one Session, from the first data access until Commit or Rollback.
// It is lowered to exactly one store transaction on the Session's store connection.
//
// Note that there are two kinds of locking in play. *Table lock states* are private to one transaction and never
// shared: they live in a lock.Tracker owned by the Context and only decide which isolation hint the next read of a
// table asks the store for. *Row locks* are taken by the store when it honors those hints and are the only thing that
// makes sessions wait for each other. Nothing in this package blocks another session; the store is the sole arbiter of
// cross-session conflicts.
//
// A Context is created lazily by Session.Context on the first access after the Session was opened or the previous
// transaction ended. Ending a transaction resets every table to Unlocked, releases the store's row locks and drops
// the Context. Each Context has a distinct ID, so holders of state derived from an ended transaction (for example an
// open query cursor whose rows were read under that transaction's hints) can tell it is no longer current.
//
// *Latches* (see the latches package) are used by stores to make a single write atomic and are not visible here.
