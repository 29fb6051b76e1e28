package repo

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gorm.io/gorm"

	"github.com/tbourn/whatsapp-storefront/internal/config"
	"github.com/tbourn/whatsapp-storefront/internal/domain"
)

func TestOpenSQLite_ErrorOnBadPath(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "does-not-exist", "app.db")

	db, err := OpenSQLite(bad)
	if err == nil || db != nil {
		t.Fatalf("expected error opening %q, got db=%v err=%v", bad, db, err)
	}
	lower := strings.ToLower(err.Error())
	if !(os.IsNotExist(err) ||
		strings.Contains(lower, "unable to open database file") ||
		strings.Contains(lower, "no such file or directory") ||
		strings.Contains(lower, "out of memory")) {
		t.Fatalf("unexpected error opening %q: %v", bad, err)
	}
}

func TestOpen_SQLiteWithTracing_AndAutoMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	var journal string
	if err := db.Raw("PRAGMA journal_mode;").Row().Scan(&journal); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if strings.ToLower(journal) != "wal" {
		t.Fatalf("journal_mode = %q", journal)
	}
	if stats := sqlDB.Stats(); stats.MaxOpenConnections != 10 {
		t.Fatalf("MaxOpenConnections = %d", stats.MaxOpenConnections)
	}

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	m := db.Migrator()
	for _, tbl := range []any{&domain.Customer{}, &domain.Conversation{}, &domain.Message{},
		&domain.Product{}, &domain.Order{}, &domain.OrderItem{}, &domain.Operator{},
		&domain.Idempotency{}, &domain.WebhookReceipt{}} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T", tbl)
		}
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(config.DatabaseConfig{Driver: "oracle"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestIsDuplicate(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("boom"), false},
		{gorm.ErrDuplicatedKey, true},
		{ErrDuplicate, true},
		{errors.New("UNIQUE constraint failed: messages.external_id"), true},
		{errors.New(`ERROR: duplicate key value violates unique constraint "ux_orders_number"`), true},
	}
	for _, c := range cases {
		if got := IsDuplicate(c.err); got != c.want {
			t.Fatalf("IsDuplicate(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

// Compile-time guard to ensure signature stability.
var _ func(string) (*gorm.DB, error) = OpenSQLite
