package querylog

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const startedKey = "sonar:querylog:started"

// Plugin is a gorm plugin feeding the Log bound to each statement's context.
// Statements run without a bound Log are ignored.
type Plugin struct{}

func (Plugin) Name() string { return "sonar:querylog" }

func (Plugin) Initialize(db *gorm.DB) error {
	type register func(name string, fn func(*gorm.DB)) error
	cb := db.Callback()
	hooks := []struct {
		name          string
		before, after register
	}{
		{"create", cb.Create().Before("gorm:create").Register, cb.Create().After("gorm:create").Register},
		{"query", cb.Query().Before("gorm:query").Register, cb.Query().After("gorm:query").Register},
		{"update", cb.Update().Before("gorm:update").Register, cb.Update().After("gorm:update").Register},
		{"delete", cb.Delete().Before("gorm:delete").Register, cb.Delete().After("gorm:delete").Register},
		{"row", cb.Row().Before("gorm:row").Register, cb.Row().After("gorm:row").Register},
		{"raw", cb.Raw().Before("gorm:raw").Register, cb.Raw().After("gorm:raw").Register},
	}
	for _, h := range hooks {
		if err := h.before("sonar:querylog:before_"+h.name, markStart); err != nil {
			return fmt.Errorf("register before %s: %w", h.name, err)
		}
		if err := h.after("sonar:querylog:after_"+h.name, record); err != nil {
			return fmt.Errorf("register after %s: %w", h.name, err)
		}
	}
	return nil
}

func markStart(db *gorm.DB) {
	if db.Statement == nil || FromContext(db.Statement.Context) == nil {
		return
	}
	db.InstanceSet(startedKey, time.Now())
}

func record(db *gorm.DB) {
	if db.Statement == nil {
		return
	}
	l := FromContext(db.Statement.Context)
	if l == nil {
		return
	}
	sql := db.Statement.SQL.String()
	if sql == "" {
		return
	}

	var elapsed time.Duration
	if v, ok := db.InstanceGet(startedKey); ok {
		if started, ok := v.(time.Time); ok {
			elapsed = time.Since(started)
		}
	}

	q := Query{
		SQL:  db.Dialector.Explain(sql, db.Statement.Vars...),
		Time: fmt.Sprintf("%.3f", elapsed.Seconds()),
		Rows: db.RowsAffected,
	}
	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		q.Error = db.Error.Error()
	}
	l.Append(q)
}
