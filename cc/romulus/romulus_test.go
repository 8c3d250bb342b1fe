package romulus

import (
	"os"
	"testing"
	"unsafe"

	"github.com/sharedcode/ccbench"
	"github.com/sharedcode/ccbench/logstore"
	"github.com/sharedcode/ccbench/txctx"
)

func newTestProtocol(t *testing.T) *Protocol {
	t.Helper()
	dir := t.TempDir() + "/log"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	log, err := logstore.NewManager(dir, 1)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return New(log, ccbench.CLWB, 8)
}

func TestProtocol_InsertReadCommit(t *testing.T) {
	p := newTestProtocol(t)
	key := ccbench.NewAbKey(1, 1)
	tx := txctx.NewTxContext()

	if ok, err := p.Insert(tx, key, []byte("hello")); err != nil || !ok {
		t.Fatalf("Insert: ok=%v err=%v", ok, err)
	}
	if ok, err := p.Commit(tx); err != nil || !ok {
		t.Fatalf("Commit: ok=%v err=%v", ok, err)
	}

	tx2 := txctx.NewTxContext()
	out := make([]byte, 5)
	if ok, err := p.Read(tx2, key, out); err != nil || !ok || string(out) != "hello" {
		t.Fatalf("Read: ok=%v err=%v out=%q", ok, err, out)
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
		t.Errorf("expected txB to see pre-commit main %q, got %q", "v1", out)
	}

	if ok, err := p.Commit(txA); err != nil || !ok {
		t.Fatalf("Commit txA: ok=%v err=%v", ok, err)
	}

	txC := txctx.NewTxContext()
	out2 := make([]byte, 2)
	if ok, _ := p.Read(txC, key, out2); !ok || string(out2) != "v2" {
		t.Errorf("expected txC to see committed main %q, got %q", "v2", out2)
	}
}

func TestProtocol_BackupHoldsPriorImageAfterCommit(t *testing.T) {
	p := newTestProtocol(t)
	key := ccbench.NewAbKey(1, 1)
	setup := txctx.NewTxContext()
	p.Insert(setup, key, []byte("v1"))
	p.Commit(setup)

	tx := txctx.NewTxContext()
	p.Update(tx, key, []byte("v2"))
	p.Commit(tx)

	it, ok := p.idx.Read(key)
	if !ok {
		t.Fatalf("key missing after commit")
	}
	if got := string(*it.Data.Backup()); got != "v1" {
		t.Errorf("backup = %q, expected prior main %q", got, "v1")
	}
	if got := string(it.Data.Get()); got != "v2" {
		t.Errorf("main = %q, expected new value %q", got, "v2")
	}
}

func TestProtocol_DeleteRemovesAfterCommit(t *testing.T) {
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

func TestProtocol_RecoverRestoresMainFromBackupAfterInterruptedCommit(t *testing.T) {
	p := newTestProtocol(t)
	key := ccbench.NewAbKey(1, 1)
	setup := txctx.NewTxContext()
	p.Insert(setup, key, []byte("v1"))
	p.Commit(setup)

	it, ok := p.idx.Read(key)
	if !ok {
		t.Fatalf("key missing after setup")
	}
	// Simulate a crash between BackUp/Set and the chain's Clear: stage the
	// backup swap by hand and leave the chain holding the header, the way
	// Commit's write phase does before it finishes.
	it.Data.BackUp()
	it.Data.Set([]byte("v2"))
	p.chain.Append(uintptr(unsafe.Pointer(it.Data)))

	if _, err := p.Recover(nil); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if got := it.Data.Get(); string(got) != "v1" {
		t.Errorf("main after Recover = %q, expected restored prior value %q", got, "v1")
	}
}

func TestProtocol_RecoverFlagsMissingCommittedKey(t *testing.T) {
	p := newTestProtocol(t)
	entries := []logstore.LogTuple{
		{Label: logstore.LabelUpdate, Key: ccbench.NewAbKey(1, 404)},
		{Label: logstore.LabelCommit},
	}
	if _, err := p.Recover(entries); err == nil {
		t.Fatalf("expected Recover to flag a committed key absent from the index")
	}
}
