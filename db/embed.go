// Package db provides the embedded cache schemas.
package db

import _ "embed"

// SQLiteSchema contains the DDL of the local SQLite cache.
//
//go:embed migrations/sqlite/001_schema.sql
var SQLiteSchema string

// PostgresSchema contains the DDL of the shared PostgreSQL cache.
//
//go:embed migrations/postgres/001_schema.sql
var PostgresSchema string
