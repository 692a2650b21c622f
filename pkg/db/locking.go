package db

import (
	"strings"

	"gorm.io/gorm"
)

var rowLockClauses = []string{"FOR UPDATE SKIP LOCKED", "FOR UPDATE"}

// StripRowLocks removes row-lock clauses from every query before it reaches
// the driver. sqlite has no row locks and serializes writers on the database
// file, so the same repository SQL runs on both backends.
func StripRowLocks(conn *gorm.DB) error {
	strip := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if !strings.Contains(sql, "FOR UPDATE") {
			return
		}
		for _, clause := range rowLockClauses {
			sql = strings.ReplaceAll(sql, clause, "")
		}
		d.Statement.SQL.Reset()
		d.Statement.SQL.WriteString(sql)
	}
	if err := conn.Callback().Query().Before("gorm:query").Register("captiva:strip_row_locks", strip); err != nil {
		return err
	}
	return conn.Callback().Row().Before("gorm:row").Register("captiva:strip_row_locks_row", strip)
}
