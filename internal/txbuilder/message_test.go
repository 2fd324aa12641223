package txbuilder

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/mr-tron/base58"
)

func testKey(tag byte) string {
	var raw [32]byte
	for i := range raw {
		raw[i] = tag
	}
	return base58.Encode(raw[:])
}

func TestCompactU16RoundTrip(t *testing.T) {
	cases := []struct {
		value int
		wire  []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{255, []byte{0xff, 0x01}},
		{16383, []byte{0xff, 0x7f}},
		{16384, []byte{0x80, 0x80, 0x01}},
	}
	for _, tc := range cases {
		got := appendCompactU16(nil, tc.value)
		if !bytes.Equal(got, tc.wire) {
			t.Errorf("encode %d = %v, want %v", tc.value, got, tc.wire)
		}
		back, n, err := decodeCompactU16(tc.wire)
		if err != nil {
			t.Fatalf("decode %v: %v", tc.wire, err)
		}
		if back != tc.value || n != len(tc.wire) {
			t.Errorf("decode %v = (%d, %d), want (%d, %d)", tc.wire, back, n, tc.value, len(tc.wire))
		}
	}
}

func TestDecodeCompactU16Truncated(t *testing.T) {
	if _, _, err := decodeCompactU16([]byte{0x80}); err == nil {
		t.Fatal("expected error on truncated input")
	}
}

func TestCompileMessageOrdering(t *testing.T) {
	feePayer := testKey(1)
	writableSigner := testKey(2)
	readonlySigner := testKey(3)
	writableOther := testKey(4)
	readonlyOther := testKey(5)
	program := testKey(9)

	tx := NewTransaction(feePayer, testKey(7)).Add(Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			{Pubkey: readonlyOther, IsSigner: false, IsWritable: false},
			{Pubkey: writableOther, IsSigner: false, IsWritable: true},
			{Pubkey: readonlySigner, IsSigner: true, IsWritable: false},
			{Pubkey: writableSigner, IsSigner: true, IsWritable: true},
		},
	})

	msg, err := tx.compileMessage()
	if err != nil {
		t.Fatal(err)
	}

	want := []string{feePayer, writableSigner, readonlySigner, writableOther, readonlyOther, program}
	if len(msg.accountKeys) != len(want) {
		t.Fatalf("got %d account keys, want %d", len(msg.accountKeys), len(want))
	}
	for i, key := range want {
		if msg.accountKeys[i] != key {
			t.Errorf("accountKeys[%d] = %s, want %s", i, msg.accountKeys[i], key)
		}
	}
	if msg.numRequiredSignatures != 3 {
		t.Errorf("numRequiredSignatures = %d, want 3", msg.numRequiredSignatures)
	}
	if msg.numReadonlySigned != 1 {
		t.Errorf("numReadonlySigned = %d, want 1", msg.numReadonlySigned)
	}
	// program + readonlyOther
	if msg.numReadonlyUnsigned != 2 {
		t.Errorf("numReadonlyUnsigned = %d, want 2", msg.numReadonlyUnsigned)
	}
}

func TestCompileMessageMergesFlags(t *testing.T) {
	feePayer := testKey(1)
	shared := testKey(2)
	program := testKey(9)

	// First touch readonly non-signer, second touch writable signer. The
	// merged entry must carry both flags.
	tx := NewTransaction(feePayer, testKey(7)).Add(
		Instruction{ProgramID: program, Accounts: []AccountMeta{{Pubkey: shared}}},
		Instruction{ProgramID: program, Accounts: []AccountMeta{{Pubkey: shared, IsSigner: true, IsWritable: true}}},
	)

	msg, err := tx.compileMessage()
	if err != nil {
		t.Fatal(err)
	}
	if msg.numRequiredSignatures != 2 {
		t.Fatalf("numRequiredSignatures = %d, want 2", msg.numRequiredSignatures)
	}
	if msg.accountKeys[1] != shared {
		t.Fatalf("accountKeys[1] = %s, want %s", msg.accountKeys[1], shared)
	}
}

func TestCompileMessageValidation(t *testing.T) {
	if _, err := NewTransaction("", testKey(7)).Add(Instruction{ProgramID: testKey(9)}).compileMessage(); err == nil {
		t.Error("expected error without fee payer")
	}
	if _, err := NewTransaction(testKey(1), "").Add(Instruction{ProgramID: testKey(9)}).compileMessage(); err == nil {
		t.Error("expected error without blockhash")
	}
	if _, err := NewTransaction(testKey(1), testKey(7)).compileMessage(); err == nil {
		t.Error("expected error without instructions")
	}
}

func TestSerializeUnsignedWireLayout(t *testing.T) {
	feePayer := testKey(1)
	program := testKey(9)
	blockhash := testKey(7)
	data := []byte{0xde, 0xad, 0xbe, 0xef}

	tx := NewTransaction(feePayer, blockhash).Add(Instruction{
		ProgramID: program,
		Accounts:  []AccountMeta{{Pubkey: feePayer, IsSigner: true, IsWritable: true}},
		Data:      data,
	})

	encoded, err := tx.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatal(err)
	}

	numSigs, n, err := decodeCompactU16(raw)
	if err != nil {
		t.Fatal(err)
	}
	if numSigs != 1 {
		t.Fatalf("signature count = %d, want 1", numSigs)
	}
	sig := raw[n : n+64]
	if !bytes.Equal(sig, make([]byte, 64)) {
		t.Fatal("unsigned transaction must carry a zeroed signature slot")
	}

	msg := raw[n+64:]
	if msg[0] != 1 || msg[1] != 0 || msg[2] != 1 {
		t.Fatalf("header = %v, want [1 0 1]", msg[:3])
	}

	numKeys, n2, err := decodeCompactU16(msg[3:])
	if err != nil {
		t.Fatal(err)
	}
	if numKeys != 2 {
		t.Fatalf("account count = %d, want 2", numKeys)
	}
	keys := msg[3+n2:]
	wantPayer, _ := base58.Decode(feePayer)
	if !bytes.Equal(keys[:32], wantPayer) {
		t.Fatal("first account key must be the fee payer")
	}

	wantHash, _ := base58.Decode(blockhash)
	hashStart := 3 + n2 + numKeys*32
	if !bytes.Equal(msg[hashStart:hashStart+32], wantHash) {
		t.Fatal("blockhash bytes mismatch")
	}

	tail := msg[hashStart+32:]
	numIx, n3, err := decodeCompactU16(tail)
	if err != nil {
		t.Fatal(err)
	}
	if numIx != 1 {
		t.Fatalf("instruction count = %d, want 1", numIx)
	}
	ix := tail[n3:]
	if ix[0] != 1 {
		t.Fatalf("program index = %d, want 1", ix[0])
	}
	// 1 account index, then 4 data bytes.
	if ix[1] != 1 || ix[2] != 0 {
		t.Fatalf("account indices = %v, want [1 0]", ix[1:3])
	}
	if ix[3] != byte(len(data)) || !bytes.Equal(ix[4:4+len(data)], data) {
		t.Fatal("instruction data mismatch")
	}
}

func TestSerializeSignedVerifies(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	signer := base58.Encode(pub)

	tx := NewTransaction(signer, testKey(7)).Add(Instruction{
		ProgramID: testKey(9),
		Accounts:  []AccountMeta{{Pubkey: signer, IsSigner: true, IsWritable: true}},
		Data:      []byte{1, 2, 3},
	})

	encoded, err := tx.SerializeSigned(map[string]ed25519.PrivateKey{signer: priv})
	if err != nil {
		t.Fatal(err)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatal(err)
	}

	_, n, err := decodeCompactU16(raw)
	if err != nil {
		t.Fatal(err)
	}
	sig := raw[n : n+64]
	msg := raw[n+64:]
	if !ed25519.Verify(pub, msg, sig) {
		t.Fatal("signature does not verify against the message bytes")
	}
}

func TestRequiredSigners(t *testing.T) {
	feePayer := testKey(1)
	coSigner := testKey(2)

	tx := NewTransaction(feePayer, testKey(7)).Add(Instruction{
		ProgramID: testKey(9),
		Accounts: []AccountMeta{
			{Pubkey: coSigner, IsSigner: true, IsWritable: true},
			{Pubkey: testKey(4), IsWritable: true},
		},
	})

	signers, err := tx.RequiredSigners()
	if err != nil {
		t.Fatal(err)
	}
	if len(signers) != 2 || signers[0] != feePayer || signers[1] != coSigner {
		t.Fatalf("signers = %v, want [%s %s]", signers, feePayer, coSigner)
	}
}
