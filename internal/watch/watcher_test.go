package watch

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestExternalWriteFiresConflict(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "vrite.db")
	if err := os.WriteFile(storePath, []byte("seed"), 0o644); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	sw, err := NewStoreWatcher(storePath)
	if err != nil {
		t.Fatalf("NewStoreWatcher: %v", err)
	}
	sw.debounceTime = 50 * time.Millisecond

	var fired atomic.Int32
	sw.OnConflict(func() { fired.Add(1) })

	if err := sw.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sw.Stop()

	if err := os.WriteFile(storePath, []byte("external"), 0o644); err != nil {
		t.Fatalf("external write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if fired.Load() == 0 {
		t.Fatal("conflict callback never fired")
	}
}

func TestLocalWriteSuppressed(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "vrite.db")
	if err := os.WriteFile(storePath, []byte("seed"), 0o644); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	sw, err := NewStoreWatcher(storePath)
	if err != nil {
		t.Fatalf("NewStoreWatcher: %v", err)
	}
	sw.debounceTime = 50 * time.Millisecond

	var fired atomic.Int32
	sw.OnConflict(func() { fired.Add(1) })

	if err := sw.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sw.Stop()

	sw.MarkLocalWrite()
	if err := os.WriteFile(storePath, []byte("own save"), 0o644); err != nil {
		t.Fatalf("local write: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("own save reported as conflict %d times", fired.Load())
	}
}

func TestUnrelatedFileIgnored(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "vrite.db")
	if err := os.WriteFile(storePath, []byte("seed"), 0o644); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	sw, err := NewStoreWatcher(storePath)
	if err != nil {
		t.Fatalf("NewStoreWatcher: %v", err)
	}
	sw.debounceTime = 50 * time.Millisecond

	var fired atomic.Int32
	sw.OnConflict(func() { fired.Add(1) })

	if err := sw.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sw.Stop()

	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("noise"), 0o644); err != nil {
		t.Fatalf("unrelated write: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("unrelated file fired conflict %d times", fired.Load())
	}
}
