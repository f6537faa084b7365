// Package db embeds the PostgreSQL schema of the checkout service.
package db

import _ "embed"

// Schema holds the idempotent DDL for every checkout table.
//
//go:embed migrations/001_schema.sql
var Schema string
