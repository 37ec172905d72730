package snark

import "testing"

func TestGenerateNotImplemented(t *testing.T) {
	_, err := Generate("device-1", []byte("secret"))
	if err != ErrSchemeNotImplemented {
		t.Fatalf("Generate: got %v, want ErrSchemeNotImplemented", err)
	}
}

func TestVerifyNotImplemented(t *testing.T) {
	var commitment [32]byte
	err := Verify([]byte("proof"), commitment)
	if err != ErrSchemeNotImplemented {
		t.Fatalf("Verify: got %v, want ErrSchemeNotImplemented", err)
	}
}

func TestCommitmentCircuitDefineAssertsNothing(t *testing.T) {
	c := &CommitmentCircuit{}
	if err := c.Define(nil); err != nil {
		t.Fatalf("Define: unexpected error %v", err)
	}
}
