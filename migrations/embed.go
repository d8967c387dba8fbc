// Package migrations embeds the SQL schema into the binary.
//
// Importing it for side effects registers the scripts with the database
// package:
//
//	import _ "github.com/nerrad567/sshswitch/migrations"
package migrations

import (
	"embed"

	"github.com/nerrad567/sshswitch/internal/infrastructure/database"
)

//go:embed *.sql
var scripts embed.FS

func init() {
	database.Migrations = scripts
}
