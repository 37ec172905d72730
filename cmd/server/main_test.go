package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"testing"

	"github.com/certen/iot-anchor/internal/config"
	"github.com/certen/iot-anchor/internal/store/memstore"
)

func TestBuildStoreDefaultsToMemory(t *testing.T) {
	logger := log.New(os.Stderr, "", 0)
	st, closer, err := buildStore(context.Background(), &config.Config{Store: config.StoreConfig{Backend: "memory"}}, logger)
	if err != nil {
		t.Fatalf("buildStore: %v", err)
	}
	defer closer()
	if st == nil {
		t.Fatalf("buildStore returned a nil store")
	}
}

func TestHexDecode32RoundTrips(t *testing.T) {
	var want [32]byte
	want[0] = 0xAB
	want[31] = 0xCD
	hexStr := "ab000000000000000000000000000000000000000000000000000000000000cd"
	got, err := hexDecode32(hexStr)
	if err != nil {
		t.Fatalf("hexDecode32: %v", err)
	}
	if got != want {
		t.Fatalf("hexDecode32 = %x, want %x", got, want)
	}
}

func TestHexDecode32RejectsWrongLength(t *testing.T) {
	if _, err := hexDecode32("ab"); err == nil {
		t.Fatalf("expected an error for a non-32-byte hex string")
	}
}

func TestHexDecode32RejectsInvalidHex(t *testing.T) {
	if _, err := hexDecode32("not-hex-at-all-not-hex-at-all-not-hex-at-all-xx"); err == nil {
		t.Fatalf("expected an error for invalid hex")
	}
}

func TestRegisterDeviceHandlerPersistsDevice(t *testing.T) {
	st := memstore.New()
	handler := registerDeviceHandler(st)

	payload, err := json.Marshal(map[string]string{
		"device_id":         "d1",
		"device_name":       "sensor",
		"device_type":       "thermometer",
		"public_commitment": "ab000000000000000000000000000000000000000000000000000000000000cd",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	if err := handler(context.Background(), payload); err != nil {
		t.Fatalf("registerDeviceHandler: %v", err)
	}

	d, err := st.GetDevice(context.Background(), "d1")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if !d.IsActive {
		t.Fatalf("device registered via an approved proposal must be active")
	}
}

func TestRegisterDeviceHandlerRejectsBadCommitment(t *testing.T) {
	st := memstore.New()
	handler := registerDeviceHandler(st)

	payload, err := json.Marshal(map[string]string{
		"device_id":         "d1",
		"public_commitment": "not-hex",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := handler(context.Background(), payload); err == nil {
		t.Fatalf("expected an error for an invalid public_commitment")
	}
}
