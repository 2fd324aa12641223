package ledger

import "crypto/sha256"

// Anchor discriminators prefix every instruction payload and account blob.
// They are the first 8 bytes of a namespaced sha256 of the name.

// InstructionDiscriminator returns the 8-byte discriminator for a program
// instruction, sha256("global:<name>")[:8].
func InstructionDiscriminator(name string) []byte {
	hash := sha256.Sum256([]byte("global:" + name))
	return hash[:8]
}

// AccountDiscriminator returns the 8-byte discriminator for a program
// account type, sha256("account:<name>")[:8].
func AccountDiscriminator(name string) []byte {
	hash := sha256.Sum256([]byte("account:" + name))
	return hash[:8]
}
