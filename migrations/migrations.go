// Package migrations встраивает SQL-миграции схемы в бинарь.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
