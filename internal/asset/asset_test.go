package asset

import (
	"strings"
	"testing"
)

func TestParseNetwork(t *testing.T) {
	n, err := ParseNetwork(" Ethereum ")
	if err != nil {
		t.Fatalf("ethereum should parse: %v", err)
	}
	if n != NetworkEthereum {
		t.Fatalf("expected ethereum, got %s", n)
	}

	if _, err := ParseNetwork("dogechain"); err == nil {
		t.Fatal("unknown network should fail")
	}
}

func TestNewEVMAddress(t *testing.T) {
	a, err := New("base", "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	if err != nil {
		t.Fatalf("valid hex address should pass: %v", err)
	}
	if a.Address != strings.ToLower("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2") {
		t.Fatalf("EVM addresses should be lower-cased, got %s", a.Address)
	}
	if a.ID() != "base:"+a.Address {
		t.Fatalf("unexpected ID %s", a.ID())
	}

	if _, err := New("ethereum", "0x1234"); err == nil {
		t.Fatal("short hex address should fail")
	}
	if _, err := New("ethereum", "not-an-address"); err == nil {
		t.Fatal("garbage address should fail")
	}
}

func TestNewSolanaAddress(t *testing.T) {
	if _, err := New("solana", "So11111111111111111111111111111111111111112"); err != nil {
		t.Fatalf("valid mint should pass: %v", err)
	}
	if _, err := New("solana", "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"); err == nil {
		t.Fatal("hex address is not a valid solana mint")
	}
	if _, err := New("solana", "abc"); err == nil {
		t.Fatal("short base58 string should fail")
	}
}
