// Package database opens the pgx connection pool for the optional
// TimescaleDB value change store.
package database
