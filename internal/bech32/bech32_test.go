package bech32

import "testing"

func TestBIP350TestVectors(t *testing.T) {
	res, ok := Decode("A1LQFN3A")
	if !ok {
		t.Fatal("A1LQFN3A should decode")
	}
	if res.Encoding != EncodingBech32m {
		t.Fatalf("A1LQFN3A encoding = %v, want bech32m", res.Encoding)
	}

	res, ok = Decode("bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4")
	if !ok {
		t.Fatal("bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4 should decode")
	}
	if res.Encoding != EncodingBech32 {
		t.Fatalf("segwit v0 address encoding = %v, want bech32", res.Encoding)
	}

	res, ok = Decode("bc1p0xlxvlhemja6c4dqv22uapctqupfhlxm9h8z3k2e72q4k9hcz7vqzk5jj0")
	if !ok {
		t.Fatal("taproot address should decode")
	}
	if res.Encoding != EncodingBech32m {
		t.Fatalf("taproot address encoding = %v, want bech32m", res.Encoding)
	}
}

func TestFlippingLastCharacterBreaksChecksum(t *testing.T) {
	addr := "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
	last := addr[len(addr)-1]
	var replacement byte = 'q'
	if last == 'q' {
		replacement = 'p'
	}
	broken := addr[:len(addr)-1] + string(replacement)

	if _, ok := Decode(broken); ok {
		t.Fatal("flipping the last character should break the checksum")
	}
}

func TestSegWitV0ProgramLength(t *testing.T) {
	addr, ok := DecodeSegWitAddress("bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4")
	if !ok {
		t.Fatal("valid P2WPKH address should decode")
	}
	if addr.WitnessVersion != 0 || len(addr.WitnessProgram) != 20 {
		t.Fatalf("got version=%d program_len=%d, want version=0 len=20", addr.WitnessVersion, len(addr.WitnessProgram))
	}
}

func TestSegWitV1MustBeBech32mAnd32Bytes(t *testing.T) {
	addr, ok := DecodeSegWitAddress("bc1p0xlxvlhemja6c4dqv22uapctqupfhlxm9h8z3k2e72q4k9hcz7vqzk5jj0")
	if !ok {
		t.Fatal("valid taproot address should decode")
	}
	if addr.WitnessVersion != 1 || len(addr.WitnessProgram) != 32 {
		t.Fatalf("got version=%d program_len=%d, want version=1 len=32", addr.WitnessVersion, len(addr.WitnessProgram))
	}
}

func TestMixedCaseRejected(t *testing.T) {
	if _, ok := Decode("bc1Qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"); ok {
		t.Fatal("mixed-case bech32 string should be rejected")
	}
}
