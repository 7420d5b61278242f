package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	outreach "github.com/goliatone/go-outreach"
	_ "github.com/mattn/go-sqlite3"
)

func TestFilesystems_ReturnsPostgresAndSQLite(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("expected 2 filesystems, got %d", len(filesystems))
	}

	var postgresFound bool
	var sqliteFound bool
	for _, entry := range filesystems {
		matches, globErr := fs.Glob(entry.FS, "*.up.sql")
		if globErr != nil {
			t.Fatalf("glob %s: %v", entry.Dialect, globErr)
		}
		if len(matches) == 0 {
			t.Fatalf("expected %s migration files, got none", entry.Dialect)
		}
		switch entry.Dialect {
		case DialectPostgres:
			postgresFound = true
		case DialectSQLite:
			sqliteFound = true
		}
	}

	if !postgresFound {
		t.Fatalf("expected postgres filesystem")
	}
	if !sqliteFound {
		t.Fatalf("expected sqlite filesystem")
	}
}

func TestRegister_UsesValidationTargets(t *testing.T) {
	var calls []string
	reg, err := Register(context.Background(), func(_ context.Context, dialect string, _ string, _ fs.FS) error {
		calls = append(calls, dialect)
		return nil
	}, WithValidationTargets(DialectSQLite))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if len(calls) != 1 {
		t.Fatalf("expected 1 registration call, got %d", len(calls))
	}
	if calls[0] != DialectSQLite {
		t.Fatalf("expected sqlite registration, got %q", calls[0])
	}
	if reg.SourceLabel != "go-outreach" {
		t.Fatalf("expected default source label, got %q", reg.SourceLabel)
	}
}

func TestRegister_RequiresRegisterFunc(t *testing.T) {
	if _, err := Register(context.Background(), nil); err == nil {
		t.Fatalf("expected missing register function to fail")
	}
}

func TestDialectForDriver(t *testing.T) {
	cases := map[string]string{
		"postgres": DialectPostgres,
		"pgx":      DialectPostgres,
		"sqlite3":  DialectSQLite,
		" SQLite ": DialectSQLite,
	}
	for driver, want := range cases {
		got, err := DialectForDriver(driver)
		if err != nil {
			t.Fatalf("dialect for %q: %v", driver, err)
		}
		if got != want {
			t.Fatalf("expected %s for %q, got %s", want, driver, got)
		}
	}
	if _, err := DialectForDriver("mysql"); err == nil {
		t.Fatalf("expected mysql to be unsupported")
	}
}

func TestMigrationPairs_ExistForBothDialects(t *testing.T) {
	root := outreach.GetMigrationsFS()
	for _, name := range []string{"00001_outreach_core_schema", "00002_outreach_mailbox_subscriptions"} {
		for _, dir := range []string{"data/sql/migrations", "data/sql/migrations/sqlite"} {
			for _, suffix := range []string{".up.sql", ".down.sql"} {
				path := dir + "/" + name + suffix
				content, err := fs.ReadFile(root, path)
				if err != nil {
					t.Fatalf("read migration %s: %v", path, err)
				}
				if strings.TrimSpace(string(content)) == "" {
					t.Fatalf("expected migration %s to have content", path)
				}
			}
		}
	}
}

func TestSQLiteCoreSchema_EnforcesDedupeConstraints(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", "file:migrations-core-dedupe?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	sqliteMigrations, err := fs.Sub(outreach.GetMigrationsFS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_outreach_core_schema.up.sql"); err != nil {
		t.Fatalf("apply core schema: %v", err)
	}

	insertOutbound := `INSERT INTO outreach_outbound_messages (id, tenant_id, dedupe_key) VALUES (?, ?, ?)`
	if _, err := db.ExecContext(ctx, insertOutbound, "out_1", "tenant_1", "k1"); err != nil {
		t.Fatalf("insert outbound: %v", err)
	}
	if _, err := db.ExecContext(ctx, insertOutbound, "out_2", "tenant_1", "k1"); err == nil {
		t.Fatalf("expected (tenant_id, dedupe_key) unique violation")
	}
	if _, err := db.ExecContext(ctx, insertOutbound, "out_3", "tenant_2", "k1"); err != nil {
		t.Fatalf("expected dedupe key to be tenant scoped: %v", err)
	}

	insertInbound := `INSERT INTO outreach_inbound_messages (id, provider, provider_message_id, received_at) VALUES (?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, insertInbound, "in_1", "gmail", "gm_1", "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("insert inbound: %v", err)
	}
	result, err := db.ExecContext(ctx, insertInbound+` ON CONFLICT (provider, provider_message_id) DO NOTHING`, "in_2", "gmail", "gm_1", "2024-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("conflict-ignore insert: %v", err)
	}
	if affected, _ := result.RowsAffected(); affected != 0 {
		t.Fatalf("expected duplicate provider message to be ignored, affected=%d", affected)
	}

	insertEvent := `INSERT INTO outreach_reply_events (id, outbound_message_id, tenant_id, event_at, inbound_message_id) VALUES (?, ?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, insertEvent, "evt_1", "out_1", "tenant_1", "2024-01-01T00:00:00Z", "in_1"); err != nil {
		t.Fatalf("insert reply event: %v", err)
	}
	if _, err := db.ExecContext(ctx, insertEvent, "evt_2", "out_1", "tenant_1", "2024-01-01T00:00:00Z", "in_1"); err == nil {
		t.Fatalf("expected one reply event per inbound message")
	}

	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_outreach_core_schema.down.sql"); err != nil {
		t.Fatalf("apply core schema down: %v", err)
	}
	var count int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name LIKE 'outreach_%'`,
	).Scan(&count); err != nil {
		t.Fatalf("count tables: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected down migration to drop outreach tables, found %d", count)
	}
}

func TestSQLiteMailboxSubscriptions_ApplyAndRollback(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", "file:migrations-mailbox-subscriptions?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	sqliteMigrations, err := fs.Sub(outreach.GetMigrationsFS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	for _, name := range []string{"00001_outreach_core_schema.up.sql", "00002_outreach_mailbox_subscriptions.up.sql"} {
		if err := execSQLMigration(ctx, db, sqliteMigrations, name); err != nil {
			t.Fatalf("apply %s: %v", name, err)
		}
	}

	insert := `INSERT INTO outreach_mailbox_subscriptions (id, tenant_id, provider, mailbox_address, expires_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, insert, "sub_1", "tenant_1", "gmail", "sales@example.com", "2024-01-08T00:00:00Z"); err != nil {
		t.Fatalf("insert subscription: %v", err)
	}
	if _, err := db.ExecContext(ctx, insert, "sub_2", "tenant_1", "gmail", "sales@example.com", "2024-01-08T00:00:00Z"); err == nil {
		t.Fatalf("expected one subscription per tenant mailbox")
	}

	if err := execSQLMigration(ctx, db, sqliteMigrations, "00002_outreach_mailbox_subscriptions.down.sql"); err != nil {
		t.Fatalf("apply subscriptions down: %v", err)
	}
	var count int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`,
		"outreach_mailbox_subscriptions",
	).Scan(&count); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected subscriptions table to be dropped")
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
