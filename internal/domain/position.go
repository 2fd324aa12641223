package domain

// Position is a wallet's holding of an asset's fractional units, derived from
// the ledger's token-account state. Never trusted from clients.
type Position struct {
	Wallet string
	Amount uint64
}

// PositionSnapshot is the cached per-asset ownership view. It is a derived,
// replaceable artifact: stale snapshots are served within TTL and the whole
// cache can be rebuilt from the ledger at any time.
type PositionSnapshot struct {
	AssetPk   string
	Positions []Position
	UpdatedAt int64 // unix ms
}

// Balance returns the snapshot balance for wallet, zero if absent.
func (s *PositionSnapshot) Balance(wallet string) uint64 {
	for _, p := range s.Positions {
		if p.Wallet == wallet {
			return p.Amount
		}
	}
	return 0
}

// PositionDiff records one wallet's balance change between two successive
// snapshots. Append-only; never mutated after insert.
type PositionDiff struct {
	AssetPk   string
	Wallet    string
	Delta     int64  // signed change; negative on transfers out
	NewAmount uint64 // resulting balance
	Ts        int64  // unix ms of the snapshot that produced the diff
}
