package stub

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"

	"invoice-market/internal/solana"
)

// RPCClient implements solana.RPCClient for testing. Accounts and token
// balances are plain maps the test mutates between calls to simulate
// ledger state changes.
type RPCClient struct {
	mu sync.Mutex

	Accounts      map[string]*solana.AccountInfo
	TokenAccounts map[string][]solana.TokenAccount // keyed by mint
	Signatures    map[string][]solana.SignatureInfo
	Blockhash     solana.Blockhash
	Slot          int64

	// SentTransactions records every SendTransaction payload.
	SentTransactions []string
	// SendErr, when set, is returned by SendTransaction.
	SendErr error

	sendCounter int
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Accounts:      make(map[string]*solana.AccountInfo),
		TokenAccounts: make(map[string][]solana.TokenAccount),
		Signatures:    make(map[string][]solana.SignatureInfo),
		// A real 32-byte value so transactions built against the stub
		// serialize cleanly.
		Blockhash:     solana.Blockhash{Blockhash: base58.Encode(bytes.Repeat([]byte{0xbb}, 32)), LastValidBlockHeight: 1},
	}
}

// Compile-time interface check.
var _ solana.RPCClient = (*RPCClient)(nil)

// GetAccountInfo returns the stubbed account, or nil when absent.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Accounts[pubkey], nil
}

// SetAccount stores account data for a pubkey.
func (c *RPCClient) SetAccount(pubkey string, info *solana.AccountInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts[pubkey] = info
}

// GetLatestBlockhash returns the stubbed blockhash.
func (c *RPCClient) GetLatestBlockhash(_ context.Context) (*solana.Blockhash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bh := c.Blockhash
	return &bh, nil
}

// GetTokenAccountsByMint returns the stubbed token accounts for a mint.
func (c *RPCClient) GetTokenAccountsByMint(_ context.Context, mint string) ([]solana.TokenAccount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	accounts := make([]solana.TokenAccount, len(c.TokenAccounts[mint]))
	copy(accounts, c.TokenAccounts[mint])
	return accounts, nil
}

// SetTokenAccounts replaces the token accounts for a mint.
func (c *RPCClient) SetTokenAccounts(mint string, accounts []solana.TokenAccount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TokenAccounts[mint] = accounts
}

// SendTransaction records the payload and returns a synthetic signature.
func (c *RPCClient) SendTransaction(_ context.Context, txBase64 string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return "", c.SendErr
	}
	c.SentTransactions = append(c.SentTransactions, txBase64)
	c.sendCounter++
	return fmt.Sprintf("StubSig%d", c.sendCounter), nil
}

// GetSignaturesForAddress returns stubbed signatures for an address.
func (c *RPCClient) GetSignaturesForAddress(_ context.Context, address string, _ *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Signatures[address], nil
}

// GetSlot returns the stubbed slot.
func (c *RPCClient) GetSlot(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Slot, nil
}
