// Package stores provides the persistence layer for the attribute engine.
// It opens SQLite (modernc, pure Go) or Postgres (pgx) databases, applies the
// embedded migrations for either dialect, and builds the visibility-aware
// queries every model table shares: rows are stored per tenancy key and per
// (change set, edit session), and reads pick the most specific visible copy.
package stores
