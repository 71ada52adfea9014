package factsync

import (
	"context"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/venue_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type answerFunc func(args []any) (any, error)

// fakeQuerier answers source queries by their SQL text. Unregistered queries
// leave dest at its zero value, like an aggregate over no rows.
type fakeQuerier struct {
	mu        sync.Mutex
	responses map[string]answerFunc
	calls     map[string][][]any
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{responses: map[string]answerFunc{}, calls: map[string][][]any{}}
}

func (f *fakeQuerier) on(query string, fn answerFunc) *fakeQuerier {
	f.responses[query] = fn
	return f
}

// onDate answers query with byDate[args[dateArg]] and the zero value otherwise.
func (f *fakeQuerier) onDate(query string, byDate map[string]any) *fakeQuerier {
	return f.on(query, func(args []any) (any, error) {
		for _, a := range args {
			if t, ok := a.(time.Time); ok {
				if v, ok := byDate[t.Format(dateLayout)]; ok {
					return v, nil
				}
			}
		}
		return nil, nil
	})
}

func (f *fakeQuerier) value(query string, v any) *fakeQuerier {
	return f.on(query, func([]any) (any, error) { return v, nil })
}

func (f *fakeQuerier) callCount(query string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls[query])
}

func (f *fakeQuerier) lastArgs(query string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.calls[query]
	if len(c) == 0 {
		return nil
	}
	return c[len(c)-1]
}

func (f *fakeQuerier) Select(ctx context.Context, dest any, query string, args ...any) error {
	return f.answer(dest, query, args)
}

func (f *fakeQuerier) Get(ctx context.Context, dest any, query string, args ...any) error {
	return f.answer(dest, query, args)
}

func (f *fakeQuerier) answer(dest any, query string, args []any) error {
	f.mu.Lock()
	f.calls[query] = append(f.calls[query], args)
	fn, ok := f.responses[query]
	f.mu.Unlock()
	if !ok {
		return nil
	}
	v, err := fn(args)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	reflect.ValueOf(dest).Elem().Set(reflect.ValueOf(v))
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "facts.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func day(s string) time.Time {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mustEqualDecimal(t *testing.T, field string, got, want decimal.Decimal) {
	t.Helper()
	if !got.Equal(want) {
		t.Fatalf("%s = %s, want %s", field, got.String(), want.String())
	}
}
