package sqlite_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nickelsh1ts/streamarr/internal/platform/store"
	"github.com/nickelsh1ts/streamarr/internal/platform/store/sqlite"
	"github.com/nickelsh1ts/streamarr/internal/platform/store/testutil"
)

func TestSQLiteDriver(t *testing.T) {
	tempDir := t.TempDir()

	cfg := &store.DriverConfig{
		Driver:  "sqlite",
		DataDir: tempDir,
	}

	testutil.RunDriverTests(t, "sqlite", cfg)

	if _, err := os.Stat(filepath.Join(tempDir, sqlite.DBFile)); os.IsNotExist(err) {
		t.Errorf("%s not created", sqlite.DBFile)
	}
}

func TestSQLiteDriverRequiresDataDir(t *testing.T) {
	if _, err := store.New(&store.DriverConfig{Driver: "sqlite"}); err == nil {
		t.Fatal("expected error without data_dir")
	}
}

func TestSQLiteDriverSurvivesRestart(t *testing.T) {
	tempDir := t.TempDir()
	ctx := context.Background()
	cfg := &store.DriverConfig{
		Driver:  "sqlite",
		DataDir: tempDir,
	}

	driver, err := store.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := driver.Init(ctx); err != nil {
		t.Fatal(err)
	}

	inv := testutil.TestInvite("RESTART", 1, time.Now())
	if err := driver.Invites().Create(ctx, inv); err != nil {
		t.Fatal(err)
	}
	u := testutil.TestUser("restart@example.com")
	if err := driver.Users().Create(ctx, u); err != nil {
		t.Fatal(err)
	}
	if err := driver.Close(); err != nil {
		t.Fatal(err)
	}

	driver2, err := store.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := driver2.Init(ctx); err != nil {
		t.Fatal(err)
	}
	defer driver2.Close()

	got, err := driver2.Invites().GetByCode(ctx, "RESTART")
	if err != nil {
		t.Fatalf("invite lost after restart: %v", err)
	}
	if got.ID != inv.ID {
		t.Errorf("id = %d, want %d", got.ID, inv.ID)
	}
	if _, err := driver2.Users().GetByEmail(ctx, "restart@example.com"); err != nil {
		t.Errorf("user lost after restart: %v", err)
	}
}
