// Package migrations embeds the SQL migrations so binaries can run them without a
// checkout.
package migrations

import "embed"

// FS holds every goose migration file.
//
//go:embed *.sql
var FS embed.FS
