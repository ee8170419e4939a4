// Package writer persists value changes to TimescaleDB/PostgreSQL.
//
// The change writer batches rows from its router buffer and inserts them
// with pgx.Batch. Rows are append-only; the locally assigned UUID is the
// primary key, so a replayed batch inserts nothing twice.
package writer
