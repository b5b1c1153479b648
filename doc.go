package tinyrecord

/*
TinyRecord is the transactional record access core of a business application runtime. Application code works with
table-typed record variables (handles); this module decides which columns a read fetches, which isolation hint every
read carries, how cursors survive changes to the state they were opened with, and how writes are guarded against
overwriting changes made by other sessions.

The `tinyrecord` module is organized into the following packages:

* `kv/schema`: table and column definitions, value types and the table catalog.
* `kv/lock`: lock strengths, their compatibility, and the per-transaction table state machine that picks the read hint
  of every table (tri-state or the legacy two-state behavior).
* `kv/transaction`: sessions and transaction contexts. A context is created lazily on first data access and ends on
  commit or rollback.
* `kv/record`: record handles: load specs with just-in-time loading of missing columns, the committed/pending value
  buffer, restartable cursors and the record-level errors.
* `kv/storage`: the contract between the record layer and a store, with an in-memory store. `badger_storage` and
  `sql_storage` are the persistent and SQL Server stores.
* `kv/tinyrecord-ctl`: a command line tool and shell for inspecting and editing records of a store.
*/
