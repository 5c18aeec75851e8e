// Package migrations embeds the SQL schema files into the binary so the
// service can migrate without the files on disk.
package migrations

import "embed"

// FS holds every *.sql file at the root of this directory.
//
//go:embed *.sql
var FS embed.FS

// Dir is the directory within FS that holds the migrations.
const Dir = "."
