package erasure

import "bytes"

import "testing"

func TestEncodeDecodeRoundTripNoLoss(t *testing.T) {
	data := bytes.Repeat([]byte{0x11, 0x22, 0x33, 0x44}, 64)
	shards, err := Encode(data, 4, 4)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(shards) != 8 {
		t.Fatalf("len(shards) = %d, want 8", len(shards))
	}

	got, err := Decode(shards, 4, 4)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("decoded data must equal original when no shards are missing")
	}
}

func TestDecodeRecoversOneMissingDataShard(t *testing.T) {
	data := bytes.Repeat([]byte{0xAA}, 256)
	shards, err := Encode(data, 4, 4)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	shards[2] = nil
	got, err := Decode(shards, 4, 4)
	if err != nil {
		t.Fatalf("Decode with one missing data shard: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("decoded data must equal original after recovering one missing data shard")
	}
}

// TestDecodeRecoversMaximalLoss loses every parity shard's worth of data:
// with 4 data and 4 parity shards, any 4 of the 8 total shards determine the
// whole polynomial, so losing all 4 parity shards (or any other 4) must
// still recover the original data. This is the property plain XOR parity
// can never give: a true Reed-Solomon code tolerates parityShards
// simultaneous losses, not just one.
func TestDecodeRecoversMaximalLoss(t *testing.T) {
	data := bytes.Repeat([]byte{0x5A, 0xC3, 0x0F, 0xF0}, 128)
	shards, err := Encode(data, 4, 4)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Drop 3 data shards and 1 parity shard, leaving exactly 4 survivors
	// spanning both data and parity positions.
	shards[0] = nil
	shards[1] = nil
	shards[2] = nil
	shards[4] = nil

	got, err := Decode(shards, 4, 4)
	if err != nil {
		t.Fatalf("Decode with 4 of 8 shards missing: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("decoded data must equal original after recovering from maximal tolerable loss")
	}
}

// TestDecodeRecoversFromParityOnly drops every data shard, proving parity
// shards alone carry enough information to reconstruct — they are
// independent polynomial evaluations, not XOR combinations of the data.
func TestDecodeRecoversFromParityOnly(t *testing.T) {
	data := bytes.Repeat([]byte{0x77}, 64)
	shards, err := Encode(data, 4, 4)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	shards[0] = nil
	shards[1] = nil
	shards[2] = nil
	shards[3] = nil

	got, err := Decode(shards, 4, 4)
	if err != nil {
		t.Fatalf("Decode from parity shards only: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("decoded data must equal original when reconstructed from parity shards alone")
	}
}

func TestDecodeFailsWithTooManyMissingShards(t *testing.T) {
	data := bytes.Repeat([]byte{0x01}, 256)
	shards, err := Encode(data, 4, 4)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Losing 5 of 8 leaves only 3 survivors, one short of the 4 needed.
	shards[0] = nil
	shards[1] = nil
	shards[2] = nil
	shards[3] = nil
	shards[4] = nil

	if _, err := Decode(shards, 4, 4); err == nil {
		t.Fatal("expected error when fewer than dataShards shards survive")
	}
}

func TestEncodeRejectsInvalidShardConfig(t *testing.T) {
	if _, err := Encode([]byte("x"), 0, 1); err == nil {
		t.Fatal("expected error for zero dataShards")
	}
}

func TestEncodeRejectsTooManyShards(t *testing.T) {
	if _, err := Encode([]byte("x"), 200, 100); err == nil {
		t.Fatal("expected error when dataShards+parityShards exceeds the GF(2^8) field size")
	}
}
