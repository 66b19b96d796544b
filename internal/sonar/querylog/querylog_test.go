package querylog

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type widget struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func newTestDB(t *testing.T, dsn string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	require.NoError(t, db.Use(Plugin{}))
	require.NoError(t, db.AutoMigrate(&widget{}))
	return db
}

func TestLog_ContextBinding(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	l := New()
	ctx := WithLog(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))

	l.Append(Query{SQL: "SELECT 1", Time: "0.000"})
	assert.Equal(t, 1, l.Count())
	assert.Equal(t, []any{map[string]any{"sql": "SELECT 1", "time": "0.000", "rows": int64(0)}}, l.Executed())

	l.Reset()
	assert.Zero(t, l.Count())
	assert.Empty(t, l.Executed())
}

func TestLog_NilSafe(t *testing.T) {
	var l *Log
	assert.NotPanics(t, func() {
		l.Append(Query{})
		l.Reset()
	})
	assert.Zero(t, l.Count())
	assert.Empty(t, l.Executed())
}

func TestPlugin_RecordsStatementsOnBoundContext(t *testing.T) {
	db := newTestDB(t, "file:querylog_bound?mode=memory&cache=shared")

	l := New()
	ctx := WithLog(context.Background(), l)

	require.NoError(t, db.WithContext(ctx).Create(&widget{Name: "bolt"}).Error)
	var found []widget
	require.NoError(t, db.WithContext(ctx).Where("name = ?", "bolt").Find(&found).Error)

	queries := l.Queries()
	require.Len(t, queries, 2)
	assert.Contains(t, queries[0].SQL, "INSERT INTO")
	assert.Contains(t, queries[1].SQL, "SELECT")
	assert.Contains(t, queries[1].SQL, `"bolt"`)
	assert.Equal(t, int64(1), queries[1].Rows)
	assert.NotEmpty(t, queries[1].Time)
}

func TestPlugin_IgnoresUnboundContext(t *testing.T) {
	db := newTestDB(t, "file:querylog_unbound?mode=memory&cache=shared")

	l := New()
	require.NoError(t, db.Create(&widget{Name: "nut"}).Error)
	assert.Zero(t, l.Count())
}

func TestPlugin_RecordsErrors(t *testing.T) {
	db := newTestDB(t, "file:querylog_errors?mode=memory&cache=shared")

	l := New()
	ctx := WithLog(context.Background(), l)
	err := db.WithContext(ctx).Exec("SELECT * FROM missing_table").Error
	require.Error(t, err)

	queries := l.Queries()
	require.Len(t, queries, 1)
	assert.NotEmpty(t, queries[0].Error)
}

func TestPlugin_NotFoundIsNotAnError(t *testing.T) {
	db := newTestDB(t, "file:querylog_notfound?mode=memory&cache=shared")

	l := New()
	ctx := WithLog(context.Background(), l)
	var w widget
	err := db.WithContext(ctx).First(&w, 999).Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	queries := l.Queries()
	require.Len(t, queries, 1)
	assert.Empty(t, queries[0].Error)
}
