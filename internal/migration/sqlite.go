package migration

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// ApplySQLiteSchema creates the schema on a sqlite database. Every statement
// is idempotent, so it runs on each start like the postgres migrations.
func ApplySQLiteSchema(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("apply sqlite schema: nil database")
	}
	for _, stmt := range SQLiteStatements() {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return nil
}

// SQLiteStatements returns the embedded sqlite schema split into statements,
// with comment lines removed.
func SQLiteStatements() []string {
	var lines []string
	for _, line := range strings.Split(sqliteSchema, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}

	var stmts []string
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
