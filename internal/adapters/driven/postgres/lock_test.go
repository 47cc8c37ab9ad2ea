package postgres

import "testing"

func TestHashLockName(t *testing.T) {
	a := hashLockName("document:doc-1")
	if a != hashLockName("document:doc-1") {
		t.Error("hash must be stable")
	}
	if a == hashLockName("document:doc-2") {
		t.Error("different names should hash differently")
	}
}
