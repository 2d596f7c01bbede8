// Package migrations embeds the versioned SQL schema so binaries and tests
// can apply it without depending on the working directory.
package migrations

import "embed"

// FS holds every NNN_name.up.sql / NNN_name.down.sql pair.
//
//go:embed *.sql
var FS embed.FS
