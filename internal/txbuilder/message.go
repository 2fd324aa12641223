package txbuilder

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/mr-tron/base58"
)

// AccountMeta describes one account an instruction touches.
type AccountMeta struct {
	Pubkey     string
	IsSigner   bool
	IsWritable bool
}

// Instruction is a single program invocation.
type Instruction struct {
	ProgramID string
	Accounts  []AccountMeta
	Data      []byte
}

// Transaction is a legacy-format transaction under construction. Signature
// slots stay zeroed until Sign fills the relayer's; client-signed flows
// serialize unsigned and let the wallet sign.
type Transaction struct {
	FeePayer        string
	RecentBlockhash string
	Instructions    []Instruction
}

// NewTransaction creates a transaction with a fee payer and fresh blockhash.
func NewTransaction(feePayer, recentBlockhash string) *Transaction {
	return &Transaction{FeePayer: feePayer, RecentBlockhash: recentBlockhash}
}

// Add appends instructions in execution order.
func (tx *Transaction) Add(instructions ...Instruction) *Transaction {
	tx.Instructions = append(tx.Instructions, instructions...)
	return tx
}

// compiledMessage is the deduplicated, ordered account table plus header.
type compiledMessage struct {
	numRequiredSignatures uint8
	numReadonlySigned     uint8
	numReadonlyUnsigned   uint8
	accountKeys           []string
	indexOf               map[string]int
}

// compileMessage merges account metas across instructions and orders them
// per the wire format: writable signers, readonly signers, writable
// non-signers, readonly non-signers. The fee payer is always first.
func (tx *Transaction) compileMessage() (*compiledMessage, error) {
	if tx.FeePayer == "" {
		return nil, fmt.Errorf("transaction has no fee payer")
	}
	if tx.RecentBlockhash == "" {
		return nil, fmt.Errorf("transaction has no recent blockhash")
	}
	if len(tx.Instructions) == 0 {
		return nil, fmt.Errorf("transaction has no instructions")
	}

	type flags struct {
		signer   bool
		writable bool
	}
	merged := make(map[string]*flags)
	var order []string

	touch := func(pubkey string, signer, writable bool) {
		f, ok := merged[pubkey]
		if !ok {
			f = &flags{}
			merged[pubkey] = f
			order = append(order, pubkey)
		}
		f.signer = f.signer || signer
		f.writable = f.writable || writable
	}

	touch(tx.FeePayer, true, true)
	for _, ix := range tx.Instructions {
		for _, meta := range ix.Accounts {
			touch(meta.Pubkey, meta.IsSigner, meta.IsWritable)
		}
		touch(ix.ProgramID, false, false)
	}

	var writableSigners, readonlySigners, writableOther, readonlyOther []string
	for _, pubkey := range order {
		if pubkey == tx.FeePayer {
			continue
		}
		f := merged[pubkey]
		switch {
		case f.signer && f.writable:
			writableSigners = append(writableSigners, pubkey)
		case f.signer:
			readonlySigners = append(readonlySigners, pubkey)
		case f.writable:
			writableOther = append(writableOther, pubkey)
		default:
			readonlyOther = append(readonlyOther, pubkey)
		}
	}

	msg := &compiledMessage{
		numRequiredSignatures: uint8(1 + len(writableSigners) + len(readonlySigners)),
		numReadonlySigned:     uint8(len(readonlySigners)),
		numReadonlyUnsigned:   uint8(len(readonlyOther)),
		indexOf:               make(map[string]int),
	}

	msg.accountKeys = append(msg.accountKeys, tx.FeePayer)
	msg.accountKeys = append(msg.accountKeys, writableSigners...)
	msg.accountKeys = append(msg.accountKeys, readonlySigners...)
	msg.accountKeys = append(msg.accountKeys, writableOther...)
	msg.accountKeys = append(msg.accountKeys, readonlyOther...)
	for i, pubkey := range msg.accountKeys {
		msg.indexOf[pubkey] = i
	}

	return msg, nil
}

// serializeMessage produces the wire-format message bytes.
func (tx *Transaction) serializeMessage() ([]byte, *compiledMessage, error) {
	msg, err := tx.compileMessage()
	if err != nil {
		return nil, nil, err
	}

	buf := []byte{msg.numRequiredSignatures, msg.numReadonlySigned, msg.numReadonlyUnsigned}

	buf = appendCompactU16(buf, len(msg.accountKeys))
	for _, pubkey := range msg.accountKeys {
		raw, err := base58.Decode(pubkey)
		if err != nil || len(raw) != 32 {
			return nil, nil, fmt.Errorf("invalid account key %q", pubkey)
		}
		buf = append(buf, raw...)
	}

	blockhash, err := base58.Decode(tx.RecentBlockhash)
	if err != nil || len(blockhash) != 32 {
		return nil, nil, fmt.Errorf("invalid blockhash %q", tx.RecentBlockhash)
	}
	buf = append(buf, blockhash...)

	buf = appendCompactU16(buf, len(tx.Instructions))
	for _, ix := range tx.Instructions {
		buf = append(buf, byte(msg.indexOf[ix.ProgramID]))

		buf = appendCompactU16(buf, len(ix.Accounts))
		for _, meta := range ix.Accounts {
			buf = append(buf, byte(msg.indexOf[meta.Pubkey]))
		}

		buf = appendCompactU16(buf, len(ix.Data))
		buf = append(buf, ix.Data...)
	}

	return buf, msg, nil
}

// RequiredSigners returns the wallets that must sign, fee payer first.
func (tx *Transaction) RequiredSigners() ([]string, error) {
	msg, err := tx.compileMessage()
	if err != nil {
		return nil, err
	}
	return msg.accountKeys[:msg.numRequiredSignatures], nil
}

// Serialize produces the base64 wire transaction with zeroed signature
// slots, ready for the requester's wallet to sign.
func (tx *Transaction) Serialize() (string, error) {
	return tx.serialize(nil)
}

// SerializeSigned produces the base64 wire transaction with the given
// ed25519 keys signing their slots. Keys map base58 pubkey to private key;
// any required signer without a key keeps a zeroed slot.
func (tx *Transaction) SerializeSigned(keys map[string]ed25519.PrivateKey) (string, error) {
	return tx.serialize(keys)
}

func (tx *Transaction) serialize(keys map[string]ed25519.PrivateKey) (string, error) {
	msgBytes, msg, err := tx.serializeMessage()
	if err != nil {
		return "", err
	}

	numSigs := int(msg.numRequiredSignatures)
	buf := appendCompactU16(nil, numSigs)
	for i := 0; i < numSigs; i++ {
		signer := msg.accountKeys[i]
		if key, ok := keys[signer]; ok {
			buf = append(buf, ed25519.Sign(key, msgBytes)...)
		} else {
			var empty [64]byte
			buf = append(buf, empty[:]...)
		}
	}
	buf = append(buf, msgBytes...)

	return base64.StdEncoding.EncodeToString(buf), nil
}
