package db

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/captiva/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestDialectSupportsPostgresAndSQLite(t *testing.T) {
	pg, err := Dialect(config.Config{DBType: "postgres", DBHost: "db", DBPort: "5432"})
	require.NoError(t, err)
	assert.Equal(t, "postgres", pg.Name())

	lite, err := Dialect(config.Config{DBType: "SQLite", DBPath: "/tmp/captiva.db"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", lite.Name())
	assert.True(t, IsSQLite(config.Config{DBType: "SQLite"}))
}

func TestDialectRejectsMySQL(t *testing.T) {
	_, err := Dialect(config.Config{DBType: "mysql"})
	assert.ErrorIs(t, err, ErrUnsupportedDialect)

	_, err = Dialect(config.Config{DBType: ""})
	assert.ErrorIs(t, err, ErrUnsupportedDialect)
}

func TestStripRowLocksLetsSQLiteRunLockingQueries(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, StripRowLocks(conn))

	require.NoError(t, conn.Exec(`CREATE TABLE devices (id INTEGER PRIMARY KEY, status TEXT NOT NULL)`).Error)
	require.NoError(t, conn.Exec(`INSERT INTO devices (id, status) VALUES (1, 'entitled')`).Error)

	var status string
	require.NoError(t, conn.Raw(`SELECT status FROM devices WHERE id = ? FOR UPDATE`, 1).Scan(&status).Error)
	assert.Equal(t, "entitled", status)

	var ids []int64
	require.NoError(t, conn.Raw(`SELECT id FROM devices ORDER BY id FOR UPDATE SKIP LOCKED`).Scan(&ids).Error)
	assert.Equal(t, []int64{1}, ids)
}
