package chainclient

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestEncodeAnchorCallSelectorAndRoot(t *testing.T) {
	op := AnchorOp{Root: [32]byte{0x01, 0x02}, LeafCount: 5, Metadata: "hello"}
	got := encodeAnchorCall(op)

	wantSelector := crypto.Keccak256([]byte("anchor(bytes32,uint256,string)"))[:4]
	if string(got[:4]) != string(wantSelector) {
		t.Fatalf("selector mismatch")
	}
	if string(got[4:36]) != string(op.Root[:]) {
		t.Fatalf("root not encoded at the expected offset")
	}
}

func TestEncodeAnchorCallPadsMetadataTo32Bytes(t *testing.T) {
	op := AnchorOp{Metadata: "abc"} // 3 bytes, needs 29 bytes of padding
	got := encodeAnchorCall(op)
	// selector(4) + root(32) + leafCount(32) + offset(32) + length(32) = 132
	tail := got[132:]
	if len(tail)%32 != 0 {
		t.Fatalf("metadata region length = %d, want a multiple of 32", len(tail))
	}
}

func TestIsNonceTooLow(t *testing.T) {
	if !isNonceTooLow(errors.New("nonce too low")) {
		t.Fatalf("expected nonce-too-low error to be detected")
	}
	if isNonceTooLow(errors.New("some other error")) {
		t.Fatalf("unrelated error must not be classified as nonce-too-low")
	}
	if isNonceTooLow(nil) {
		t.Fatalf("nil error must not be classified as nonce-too-low")
	}
}

func TestIsTransientRPCErr(t *testing.T) {
	cases := []struct {
		err       error
		transient bool
	}{
		{nil, false},
		{errors.New("connection refused"), true},
		{errors.New("context deadline exceeded: timeout"), true},
		{errors.New("nonce too low"), true},
		{errors.New("execution reverted"), false},
	}
	for _, c := range cases {
		if got := isTransientRPCErr(c.err); got != c.transient {
			t.Fatalf("isTransientRPCErr(%v) = %v, want %v", c.err, got, c.transient)
		}
	}
}

func TestDecodeEventRejectsShortData(t *testing.T) {
	c := &Client{}
	if _, err := c.DecodeEvent("topic", []byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for data shorter than 32 bytes")
	}
}

func TestDecodeEventExtractsRoot(t *testing.T) {
	c := &Client{}
	data := make([]byte, 40)
	data[0] = 0xAB
	ev, err := c.DecodeEvent("topic", data)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.Root[0] != 0xAB {
		t.Fatalf("Root[0] = %x, want 0xAB", ev.Root[0])
	}
	if ev.Topic != "topic" {
		t.Fatalf("Topic = %q, want %q", ev.Topic, "topic")
	}
}
