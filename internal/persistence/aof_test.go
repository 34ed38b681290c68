package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/lojhan/chainkv/internal/store"
)

func TestAOFAppendAndLoad(t *testing.T) {
	for _, policy := range []AOFSyncPolicy{AOFSyncAlways, AOFSyncEverySec, AOFSyncNo} {
		t.Run(string(policy), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "appendonly.aof")

			aof, err := NewAOFWriter(path, policy, zap.NewNop())
			if err != nil {
				t.Fatalf("Failed to create AOF writer: %v", err)
			}

			src := store.NewDefault()
			src.SetJournal(aof)
			src.Set("key1", "value1")
			src.Set("key2", "value2")
			src.Set("key1", "updated")
			src.Delete("key2")
			src.Set("key3", "value3")

			if err := aof.Close(); err != nil {
				t.Fatalf("Failed to close AOF: %v", err)
			}

			dst := store.NewDefault()
			n, err := LoadAOF(path, dst, zap.NewNop())
			if err != nil {
				t.Fatalf("LoadAOF failed: %v", err)
			}
			if n != 5 {
				t.Errorf("Expected 5 commands replayed, got %d", n)
			}
			if v, _ := dst.Get("key1"); v != "updated" {
				t.Errorf("Expected key1=updated, got %q", v)
			}
			if dst.Exists("key2") != 0 {
				t.Error("Expected key2 to be deleted")
			}
			if dst.Len() != 2 {
				t.Errorf("Expected 2 keys, got %d", dst.Len())
			}
		})
	}
}

func TestAOFFlushDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appendonly.aof")
	aof, err := NewAOFWriter(path, AOFSyncAlways, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	aof.Append("SET", "a", "1")
	aof.Append("FLUSHDB")
	aof.Append("SET", "b", "2")
	aof.Close()

	dst := store.NewDefault()
	if _, err := LoadAOF(path, dst, zap.NewNop()); err != nil {
		t.Fatalf("LoadAOF failed: %v", err)
	}
	if dst.Len() != 1 || dst.Exists("b") != 1 {
		t.Errorf("Expected only b after FLUSHDB replay, got %d keys", dst.Len())
	}
}

func TestAOFTruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appendonly.aof")
	data := "*3\r\n$3\r\nSET\r\n$1\r\na\r\n$1\r\n1\r\n*3\r\n$3\r\nSET\r\n$1\r\nb\r\n$5\r\nhel"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	dst := store.NewDefault()
	n, err := LoadAOF(path, dst, zap.NewNop())
	if err != nil {
		t.Fatalf("Expected truncated tail to be tolerated, got %v", err)
	}
	if n != 1 || dst.Len() != 1 {
		t.Errorf("Expected 1 command applied, got %d (len %d)", n, dst.Len())
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if complete := int64(len("*3\r\n$3\r\nSET\r\n$1\r\na\r\n$1\r\n1\r\n")); info.Size() != complete {
		t.Errorf("Expected file truncated to %d bytes, got %d", complete, info.Size())
	}
}

func TestAOFAppendAfterTruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appendonly.aof")
	data := "*3\r\n$3\r\nSET\r\n$1\r\na\r\n$1\r\n1\r\n*3\r\n$3\r\nSET\r\n$1\r\nb\r\n$5\r\nhel"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	first := store.NewDefault()
	if _, err := LoadAOF(path, first, zap.NewNop()); err != nil {
		t.Fatalf("First load failed: %v", err)
	}

	aof, err := NewAOFWriter(path, AOFSyncAlways, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create AOF writer: %v", err)
	}
	first.SetJournal(aof)
	first.Set("c", "3")
	first.Set("d", "4")
	if err := aof.Close(); err != nil {
		t.Fatalf("Failed to close AOF: %v", err)
	}

	second := store.NewDefault()
	n, err := LoadAOF(path, second, zap.NewNop())
	if err != nil {
		t.Fatalf("Second load failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 commands replayed, got %d", n)
	}
	for key, want := range map[string]string{"a": "1", "c": "3", "d": "4"} {
		if v, ok := second.Get(key); !ok || v != want {
			t.Errorf("Expected %s=%s, got %q (found=%v)", key, want, v, ok)
		}
	}
	if second.Exists("b") != 0 {
		t.Error("Expected partial SET b to be dropped")
	}
}

func TestAOFCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appendonly.aof")
	if err := os.WriteFile(path, []byte("*1\r\n$4\r\nINCR\r\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAOF(path, store.NewDefault(), zap.NewNop()); err == nil {
		t.Error("Expected unknown command to fail replay")
	}

	if err := os.WriteFile(path, []byte("garbage\r\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAOF(path, store.NewDefault(), zap.NewNop()); err == nil {
		t.Error("Expected parse error")
	}
}

func TestAOFAppendAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appendonly.aof")
	aof, err := NewAOFWriter(path, AOFSyncNo, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := aof.Close(); err != nil {
		t.Fatal(err)
	}
	if err := aof.Append("SET", "a", "1"); err == nil {
		t.Error("Expected append after close to fail")
	}
	if err := aof.Close(); err != nil {
		t.Errorf("Expected second close to be a no-op, got %v", err)
	}
}

func TestParseSyncPolicy(t *testing.T) {
	for _, s := range []string{"always", "everysec", "NO"} {
		if _, err := ParseSyncPolicy(s); err != nil {
			t.Errorf("ParseSyncPolicy(%q) failed: %v", s, err)
		}
	}
	if _, err := ParseSyncPolicy("sometimes"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}
