// internal/storage/archive/localfs_test.go
package archive

import (
	"context"
	"errors"
	"testing"

	"github.com/newthinker/quantsim/internal/core"
)

func TestLocalFS_ImplementsStorage(t *testing.T) {
	var _ Storage = (*LocalFS)(nil)
}

func TestLocalFS_WriteRead(t *testing.T) {
	fs, err := NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS: %v", err)
	}

	ctx := context.Background()
	data := []byte(`{"strategy":"rsi"}`)

	if err := fs.Write(ctx, "runs/rsi/a.json", data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := fs.Read(ctx, "runs/rsi/a.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("got %q, want %q", got, data)
	}

	if _, err := fs.Read(ctx, "runs/rsi/missing.json"); !errors.Is(err, core.ErrNoData) {
		t.Errorf("Read(missing) = %v, want NO_DATA", err)
	}
}

func TestLocalFS_Exists(t *testing.T) {
	fs, _ := NewLocalFS(t.TempDir())
	ctx := context.Background()

	exists, _ := fs.Exists(ctx, "nonexistent.json")
	if exists {
		t.Error("expected false for nonexistent file")
	}

	fs.Write(ctx, "exists.json", []byte("{}"))
	exists, _ = fs.Exists(ctx, "exists.json")
	if !exists {
		t.Error("expected true for existing file")
	}
}

func TestLocalFS_List(t *testing.T) {
	fs, _ := NewLocalFS(t.TempDir())
	ctx := context.Background()

	fs.Write(ctx, "runs/rsi/20240102/b.json", []byte("b"))
	fs.Write(ctx, "runs/rsi/20240102/a.json", []byte("a"))
	fs.Write(ctx, "runs/macd/20240102/c.json", []byte("c"))

	paths, err := fs.List(ctx, "runs/rsi")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"runs/rsi/20240102/a.json", "runs/rsi/20240102/b.json"}
	if len(paths) != len(want) {
		t.Fatalf("expected %d paths, got %v", len(want), paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}

	empty, err := fs.List(ctx, "runs/sma_crossover")
	if err != nil || len(empty) != 0 {
		t.Errorf("List(missing) = %v, %v", empty, err)
	}
}

func TestLocalFS_Delete(t *testing.T) {
	fs, _ := NewLocalFS(t.TempDir())
	ctx := context.Background()

	fs.Write(ctx, "delete.json", []byte("{}"))
	fs.Delete(ctx, "delete.json")

	exists, _ := fs.Exists(ctx, "delete.json")
	if exists {
		t.Error("file should be deleted")
	}
}

func TestLocalFS_RejectsEscapes(t *testing.T) {
	fs, _ := NewLocalFS(t.TempDir())
	ctx := context.Background()

	for _, p := range []string{"../outside.json", "runs/../../outside.json", "/etc/passwd"} {
		if err := fs.Write(ctx, p, []byte("x")); !errors.Is(err, core.ErrConfigInvalid) {
			t.Errorf("Write(%q) = %v, want CONFIG_INVALID", p, err)
		}
	}
}
