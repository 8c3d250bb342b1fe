package occnuma

import (
	"os"
	"testing"

	"github.com/sharedcode/ccbench"
	"github.com/sharedcode/ccbench/logstore"
	"github.com/sharedcode/ccbench/storage"
	"github.com/sharedcode/ccbench/txctx"
)

func newTestProtocol(t *testing.T) *Protocol {
	t.Helper()
	dir := t.TempDir()
	bodys, err := storage.NewScatteredAllocator(dir, 1<<20)
	if err != nil {
		t.Fatalf("NewScatteredAllocator: %v", err)
	}
	t.Cleanup(func() { bodys.Close() })

	logDir := dir + "/log"
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	log, err := logstore.NewManager(logDir, 1)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	return New(bodys, log)
}

func TestProtocol_InsertReadCommit(t *testing.T) {
	p := newTestProtocol(t)
	key := ccbench.NewAbKey(1, 1)
	tx := txctx.NewTxContext()

	if ok, err := p.Insert(tx, key, []byte("v1")); err != nil || !ok {
		t.Fatalf("Insert: ok=%v err=%v", ok, err)
	}
	if ok, err := p.Commit(tx); err != nil || !ok {
		t.Fatalf("Commit: ok=%v err=%v", ok, err)
	}

	tx2 := txctx.NewTxContext()
	out := make([]byte, 2)
	if ok, err := p.Read(tx2, key, out); err != nil || !ok || string(out) != "v1" {
		t.Fatalf("Read: ok=%v err=%v out=%q", ok, err, out)
	}
}

func TestProtocol_ValidationFailsOnConcurrentWrite(t *testing.T) {
	p := newTestProtocol(t)
	key := ccbench.NewAbKey(1, 1)
	setup := txctx.NewTxContext()
	p.Insert(setup, key, []byte("v1"))
	p.Commit(setup)

	// txA reads key, then a concurrent txB updates and commits before txA
	// commits: txA's validation must now see a changed wts and reject.
	txA := txctx.NewTxContext()
	out := make([]byte, 2)
	if ok, _ := p.Read(txA, key, out); !ok {
		t.Fatalf("txA Read failed")
	}
	txA.RecordWrite(key) // force NeedWrite so Commit actually validates

	txB := txctx.NewTxContext()
	if ok, err := p.Update(txB, key, []byte("v2")); err != nil || !ok {
		t.Fatalf("txB Update: ok=%v err=%v", ok, err)
	}
	if ok, err := p.Commit(txB); err != nil || !ok {
		t.Fatalf("txB Commit: ok=%v err=%v", ok, err)
	}

	ok, err := p.Commit(txA)
	if err != nil {
		t.Fatalf("txA Commit error: %v", err)
	}
	if ok {
		t.Errorf("expected txA's commit to fail validation after txB's concurrent write")
	}
}

func TestProtocol_UpdateNotVisibleUntilCommit(t *testing.T) {
	p := newTestProtocol(t)
	key := ccbench.NewAbKey(1, 1)
	setup := txctx.NewTxContext()
	p.Insert(setup, key, []byte("v1"))
	p.Commit(setup)

	txA := txctx.NewTxContext()
	p.Update(txA, key, []byte("v2"))

	txB := txctx.NewTxContext()
	out := make([]byte, 2)
	if ok, _ := p.Read(txB, key, out); !ok || string(out) != "v1" {
		t.Errorf("expected txB to see pre-commit value %q, got %q", "v1", out)
	}

	p.Commit(txA)
}

func TestProtocol_DeleteThenReadFails(t *testing.T) {
	p := newTestProtocol(t)
	key := ccbench.NewAbKey(1, 1)
	setup := txctx.NewTxContext()
	p.Insert(setup, key, []byte("v1"))
	p.Commit(setup)

	tx := txctx.NewTxContext()
	if ok, err := p.Delete(tx, key); err != nil || !ok {
		t.Fatalf("Delete: ok=%v err=%v", ok, err)
	}
	if ok, err := p.Commit(tx); err != nil || !ok {
		t.Fatalf("Commit: ok=%v err=%v", ok, err)
	}

	tx2 := txctx.NewTxContext()
	out := make([]byte, 2)
	if ok, _ := p.Read(tx2, key, out); ok {
		t.Errorf("expected Read after commit of delete to fail")
	}
}

func TestProtocol_CommitLogsInsertWithExtraInfo(t *testing.T) {
	p := newTestProtocol(t)
	key := ccbench.NewAbKey(1, 1)
	tx := txctx.NewTxContext()
	if ok, err := p.Insert(tx, key, []byte("v1")); err != nil || !ok {
		t.Fatalf("Insert: ok=%v err=%v", ok, err)
	}
	if ok, err := p.Commit(tx); err != nil || !ok {
		t.Fatalf("Commit: ok=%v err=%v", ok, err)
	}

	// A fresh protocol's first log append always lands at offset 0.
	tup, _, err := p.log.ReadAt(0)
	if err != nil {
		t.Fatalf("ReadAt(0): %v", err)
	}
	if tup.Label != logstore.LabelInsert {
		t.Fatalf("expected LabelInsert, got %v", tup.Label)
	}
	if string(tup.ExtraInfo) != "v1" {
		t.Errorf("ExtraInfo = %q, expected %q", tup.ExtraInfo, "v1")
	}
}

func TestProtocol_CommitLogsUpdateWithExtraInfo(t *testing.T) {
	p := newTestProtocol(t)
	key := ccbench.NewAbKey(1, 1)
	setup := txctx.NewTxContext()
	p.Insert(setup, key, []byte("v1"))
	p.Commit(setup)

	tx := txctx.NewTxContext()
	if ok, err := p.Update(tx, key, []byte("v2")); err != nil || !ok {
		t.Fatalf("Update: ok=%v err=%v", ok, err)
	}
	if ok, err := p.Commit(tx); err != nil || !ok {
		t.Fatalf("Commit: ok=%v err=%v", ok, err)
	}

	first, n1, err := p.log.ReadAt(0)
	if err != nil {
		t.Fatalf("ReadAt(0): %v", err)
	}
	second, n2, err := p.log.ReadAt(uint64(n1))
	if err != nil {
		t.Fatalf("ReadAt second: %v", err)
	}
	third, _, err := p.log.ReadAt(uint64(n1 + n2))
	if err != nil {
		t.Fatalf("ReadAt third: %v", err)
	}
	if first.Label != logstore.LabelInsert || second.Label != logstore.LabelCommit {
		t.Fatalf("unexpected log prefix: %v, %v", first.Label, second.Label)
	}
	if third.Label != logstore.LabelUpdate {
		t.Fatalf("expected LabelUpdate, got %v", third.Label)
	}
	if string(third.ExtraInfo) != "v2" {
		t.Errorf("ExtraInfo = %q, expected %q", third.ExtraInfo, "v2")
	}
}

func TestProtocol_ConcurrentTransactionsDoNotRaceBookkeepingMaps(t *testing.T) {
	p := newTestProtocol(t)
	const n = 32
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			tx := txctx.NewTxContext()
			key := ccbench.NewAbKey(1, uint64(i))
			p.Insert(tx, key, []byte("x"))
			p.Commit(tx)
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}
}

func TestProtocol_RecoverFlagsDeleteStillPresent(t *testing.T) {
	p := newTestProtocol(t)
	key := ccbench.NewAbKey(1, 1)
	setup := txctx.NewTxContext()
	p.Insert(setup, key, []byte("v1"))
	p.Commit(setup)

	entries := []logstore.LogTuple{
		{Label: logstore.LabelDelete, Key: key},
		{Label: logstore.LabelCommit},
	}
	if _, err := p.Recover(entries); err == nil {
		t.Fatalf("expected Recover to flag a committed delete still present in the index")
	}
}
