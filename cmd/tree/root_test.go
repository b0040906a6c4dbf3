package tree

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/nKV/lib/db"
	"github.com/ValentinKolb/nKV/lib/db/engines/bolt"
	"github.com/spf13/viper"
)

func TestFailedCommandIsReleased(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	viper.Set("log-level", "warn")

	TreeCommands.SetArgs([]string{"insert", "", "v", "--path", dir})
	TreeCommands.SetOut(io.Discard)
	TreeCommands.SetErr(io.Discard)

	// empty keys are rejected after the session was opened
	if err := TreeCommands.Execute(); err == nil {
		t.Fatalf("inserting an empty key should fail")
	}
	if session == nil {
		t.Fatalf("expected the session of the failed command to be open")
	}

	Release()
	if session != nil || tree != nil {
		t.Fatalf("Release should reset the session")
	}
	Release() // no-op

	d, err := bolt.NewEngine().Open(db.Options{Path: dir, Mode: db.OpenExisting})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer d.Close()
	if d.WasRecovered() {
		t.Errorf("a failed command must still close the database cleanly")
	}
}
