// Package db embeds the commerce schema.
package db

import _ "embed"

// Schema is applied on startup; every statement is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
