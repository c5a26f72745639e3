package schema

import (
	"fmt"
	"strings"

	"example.com/healthstore/internal/storage/codec"
)

// Dialect selects the SQL flavor for the few statements that differ between
// backends.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// Change log table names, shared with the changelog package.
const (
	ChangeLogTable      = "change_log_table"
	ChangeLogTokenTable = "change_log_token_table"
)

// Change log operation values stored in the operation column.
const (
	OpUpsert = 0
	OpDelete = 1
)

func autoincrementPK(d Dialect) string {
	if d == DialectPostgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// CreateStatements returns the DDL for every registered record table plus the
// change log tables, in dependency order. All statements are idempotent.
func CreateStatements(d Dialect) []string {
	var stmts []string

	for _, entry := range Entries() {
		stmts = append(stmts, createTable(entry.Main, codec.ColUUID))
		stmts = append(stmts, fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_client_id ON %s (%s, %s) WHERE %s <> ''",
			entry.Main.Name, entry.Main.Name,
			codec.ColOriginPackage, codec.ColClientRecordID, codec.ColClientRecordID))
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS idx_%s_time ON %s (%s, %s)",
			entry.Main.Name, entry.Main.Name, entry.StartColumn(), codec.ColUUID))

		if entry.Series != nil {
			stmts = append(stmts, createTable(*entry.Series, ""))
			stmts = append(stmts, fmt.Sprintf(
				"CREATE INDEX IF NOT EXISTS idx_%s_uuid ON %s (%s, %s)",
				entry.Series.Name, entry.Series.Name, codec.ColUUID, codec.ColSampleIndex))
		}
	}

	stmts = append(stmts, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
	change_id %s,
	record_uuid TEXT NOT NULL,
	record_type INTEGER NOT NULL,
	origin_package TEXT NOT NULL,
	operation INTEGER NOT NULL,
	time_millis INTEGER NOT NULL
)`, ChangeLogTable, autoincrementPK(d)))
	stmts = append(stmts, fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_%s_uuid ON %s (record_uuid)",
		ChangeLogTable, ChangeLogTable))

	stmts = append(stmts, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
	token_id %s,
	last_change_id INTEGER NOT NULL,
	record_types TEXT NOT NULL,
	origin_packages TEXT NOT NULL,
	created_millis INTEGER NOT NULL
)`, ChangeLogTokenTable, autoincrementPK(d)))

	return stmts
}

func createTable(spec TableSpec, primaryKey string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", spec.Name)
	for i, col := range spec.Columns {
		if i > 0 {
			b.WriteString(",\n")
		}
		fmt.Fprintf(&b, "\t%s %s", col.Name, col.Kind.SQLType())
		if col.Name == primaryKey {
			b.WriteString(" PRIMARY KEY")
		}
	}
	b.WriteString("\n)")
	return b.String()
}
