// Package record implements table-typed record variables on top of a transaction session.
//
// A Handle decides which columns to fetch (LoadSpec), keeps the values it read apart from the values assigned to it
// (Buffer) and iterates query results with a Cursor that is rebuilt whenever the state it was opened with changes.
// Every read asks the session's transaction for the isolation hint of the table, and every write escalates the table
// before it is sent to the store.
//
// Reading a column that was not loaded triggers a JIT load: the row is fetched again and every column that was
// loaded must still hold the value that was read, otherwise the access fails with ErrInconsistentRead. Operations
// that must not fail halfway (Delete, Rename, TransferFields, Copy, and writes in general) load the full row before
// they change anything.
package record
