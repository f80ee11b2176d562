// Package db holds the goose-format SQL migrations of the ledger schema.
package db

import "embed"

// Migrations contains migrations/*.sql, applied in file name order.
//
//go:embed migrations/*.sql
var Migrations embed.FS
