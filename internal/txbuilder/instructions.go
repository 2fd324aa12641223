package txbuilder

import (
	"encoding/binary"

	"invoice-market/internal/ledger"
	"invoice-market/internal/solana"
)

// Marketplace program instruction names, hashed into discriminators.
const (
	ixMintInvoice           = "mint_invoice"
	ixCreateEscrow          = "create_escrow"
	ixFundInvoice           = "fund_invoice"
	ixInitShares            = "init_shares"
	ixFundInvoiceFractional = "fund_invoice_fractional"
	ixSetSettled            = "set_settled"
	ixCreateListing         = "create_listing"
	ixFulfillListing        = "fulfill_listing"
	ixCancelListing         = "cancel_listing"
	ixCreateListingV2       = "create_listing_v2"
	ixFulfillListingV2      = "fulfill_listing_v2"
	ixCancelListingV2       = "cancel_listing_v2"
)

// SPL token program instruction indices.
const (
	splRevoke         = 5
	splApproveChecked = 13
)

func appendU64(buf []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, v)
}

func appendI64(buf []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint64(buf, uint64(v))
}

func appendBorshString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, []byte(s)...)
}

func meta(pubkey string, signer, writable bool) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsSigner: signer, IsWritable: writable}
}

// mintInvoiceIx creates the asset account. The asset keypair co-signs the
// init alongside the paying seller.
func mintInvoiceIx(programID, assetPk, seller, metadataHash string, amount uint64, dueDate int64) Instruction {
	data := append([]byte{}, ledger.InstructionDiscriminator(ixMintInvoice)...)
	data = appendBorshString(data, metadataHash)
	data = appendU64(data, amount)
	data = appendI64(data, dueDate)

	return Instruction{
		ProgramID: programID,
		Accounts: []AccountMeta{
			meta(assetPk, true, true),
			meta(seller, true, true),
			meta(solana.SystemProgramID, false, false),
		},
		Data: data,
	}
}

// createEscrowIx initializes the escrow authority PDA and its funds token
// account for an asset.
func createEscrowIx(programID, assetPk, escrowAuth, escrowToken, fundsMint, payer string) Instruction {
	data := append([]byte{}, ledger.InstructionDiscriminator(ixCreateEscrow)...)

	return Instruction{
		ProgramID: programID,
		Accounts: []AccountMeta{
			meta(assetPk, false, true),
			meta(escrowAuth, false, true),
			meta(escrowToken, false, true),
			meta(fundsMint, false, false),
			meta(payer, true, true),
			meta(solana.TokenProgramID, false, false),
			meta(solana.ATAProgramID, false, false),
			meta(solana.SystemProgramID, false, false),
			meta(solana.SysvarRentID, false, false),
		},
		Data: data,
	}
}

// fundInvoiceIx moves the full funding amount from the investor's token
// account into escrow and records the investor on the asset.
func fundInvoiceIx(programID, assetPk, investor, investorToken, escrowToken string, amount uint64) Instruction {
	data := append([]byte{}, ledger.InstructionDiscriminator(ixFundInvoice)...)
	data = appendU64(data, amount)

	return Instruction{
		ProgramID: programID,
		Accounts: []AccountMeta{
			meta(assetPk, false, true),
			meta(investor, true, true),
			meta(investorToken, false, true),
			meta(escrowToken, false, true),
			meta(solana.TokenProgramID, false, false),
		},
		Data: data,
	}
}

// initSharesIx creates the shares mint for fractional ownership. The mint
// keypair co-signs the init.
func initSharesIx(programID, assetPk, sharesMint, seller string, supply uint64, decimals uint8) Instruction {
	data := append([]byte{}, ledger.InstructionDiscriminator(ixInitShares)...)
	data = appendU64(data, supply)
	data = append(data, decimals)

	return Instruction{
		ProgramID: programID,
		Accounts: []AccountMeta{
			meta(assetPk, false, true),
			meta(sharesMint, true, true),
			meta(seller, true, true),
			meta(solana.TokenProgramID, false, false),
			meta(solana.SystemProgramID, false, false),
			meta(solana.SysvarRentID, false, false),
		},
		Data: data,
	}
}

// fundInvoiceFractionalIx funds a slice of the asset and mints matching
// shares to the investor.
func fundInvoiceFractionalIx(programID, assetPk, investor, investorFundsToken, escrowToken, sharesMint, investorSharesToken, escrowAuth string, amount uint64) Instruction {
	data := append([]byte{}, ledger.InstructionDiscriminator(ixFundInvoiceFractional)...)
	data = appendU64(data, amount)

	return Instruction{
		ProgramID: programID,
		Accounts: []AccountMeta{
			meta(assetPk, false, true),
			meta(investor, true, true),
			meta(investorFundsToken, false, true),
			meta(escrowToken, false, true),
			meta(sharesMint, false, true),
			meta(investorSharesToken, false, true),
			meta(escrowAuth, false, false),
			meta(solana.TokenProgramID, false, false),
		},
		Data: data,
	}
}

// setSettledIx flips the asset status to Settled. Operator-gated on chain.
func setSettledIx(programID, assetPk, operator string) Instruction {
	data := append([]byte{}, ledger.InstructionDiscriminator(ixSetSettled)...)

	return Instruction{
		ProgramID: programID,
		Accounts: []AccountMeta{
			meta(assetPk, false, true),
			meta(operator, true, false),
		},
		Data: data,
	}
}

// createListingIx initializes a v1 listing and escrows the listed shares
// under the market authority.
func createListingIx(programID, listingAddr, assetPk, seller, sellerSharesToken, marketAuth, marketSharesToken string, price, qty uint64) Instruction {
	data := append([]byte{}, ledger.InstructionDiscriminator(ixCreateListing)...)
	data = appendU64(data, price)
	data = appendU64(data, qty)

	return Instruction{
		ProgramID: programID,
		Accounts: []AccountMeta{
			meta(listingAddr, false, true),
			meta(assetPk, false, false),
			meta(seller, true, true),
			meta(sellerSharesToken, false, true),
			meta(marketAuth, false, false),
			meta(marketSharesToken, false, true),
			meta(solana.TokenProgramID, false, false),
			meta(solana.SystemProgramID, false, false),
		},
		Data: data,
	}
}

// fulfillListingIx settles a v1 fill: buyer pays the seller, escrowed
// shares move to the buyer.
func fulfillListingIx(programID, listingAddr, assetPk, buyer, buyerFundsToken, sellerFundsToken, marketSharesToken, buyerSharesToken, marketAuth string, qty uint64) Instruction {
	data := append([]byte{}, ledger.InstructionDiscriminator(ixFulfillListing)...)
	data = appendU64(data, qty)

	return Instruction{
		ProgramID: programID,
		Accounts: []AccountMeta{
			meta(listingAddr, false, true),
			meta(assetPk, false, false),
			meta(buyer, true, true),
			meta(buyerFundsToken, false, true),
			meta(sellerFundsToken, false, true),
			meta(marketSharesToken, false, true),
			meta(buyerSharesToken, false, true),
			meta(marketAuth, false, false),
			meta(solana.TokenProgramID, false, false),
		},
		Data: data,
	}
}

// cancelListingIx returns escrowed shares to the seller and closes the
// v1 listing.
func cancelListingIx(programID, listingAddr, seller, marketSharesToken, sellerSharesToken, marketAuth string) Instruction {
	data := append([]byte{}, ledger.InstructionDiscriminator(ixCancelListing)...)

	return Instruction{
		ProgramID: programID,
		Accounts: []AccountMeta{
			meta(listingAddr, false, true),
			meta(seller, true, true),
			meta(marketSharesToken, false, true),
			meta(sellerSharesToken, false, true),
			meta(marketAuth, false, false),
			meta(solana.TokenProgramID, false, false),
		},
		Data: data,
	}
}

// createListingV2Ix initializes a v2 listing. Shares stay in the seller's
// account; a delegate approval to the market authority travels in the same
// transaction.
func createListingV2Ix(programID, listingAddr, assetPk, seller string, price, qty uint64) Instruction {
	data := append([]byte{}, ledger.InstructionDiscriminator(ixCreateListingV2)...)
	data = appendU64(data, price)
	data = appendU64(data, qty)

	return Instruction{
		ProgramID: programID,
		Accounts: []AccountMeta{
			meta(listingAddr, false, true),
			meta(assetPk, false, false),
			meta(seller, true, true),
			meta(solana.SystemProgramID, false, false),
		},
		Data: data,
	}
}

// fulfillListingV2Ix settles a v2 fill, pulling shares directly from the
// seller's account via the market authority's delegated allowance.
func fulfillListingV2Ix(programID, listingAddr, assetPk, buyer, buyerFundsToken, sellerFundsToken, sellerSharesToken, buyerSharesToken, marketAuth string, qty uint64) Instruction {
	data := append([]byte{}, ledger.InstructionDiscriminator(ixFulfillListingV2)...)
	data = appendU64(data, qty)

	return Instruction{
		ProgramID: programID,
		Accounts: []AccountMeta{
			meta(listingAddr, false, true),
			meta(assetPk, false, false),
			meta(buyer, true, true),
			meta(buyerFundsToken, false, true),
			meta(sellerFundsToken, false, true),
			meta(sellerSharesToken, false, true),
			meta(buyerSharesToken, false, true),
			meta(marketAuth, false, false),
			meta(solana.TokenProgramID, false, false),
		},
		Data: data,
	}
}

// cancelListingV2Ix closes a v2 listing. The allowance revoke travels in
// the same transaction.
func cancelListingV2Ix(programID, listingAddr, seller string) Instruction {
	data := append([]byte{}, ledger.InstructionDiscriminator(ixCancelListingV2)...)

	return Instruction{
		ProgramID: programID,
		Accounts: []AccountMeta{
			meta(listingAddr, false, true),
			meta(seller, true, true),
		},
		Data: data,
	}
}

// approveCheckedIx delegates up to amount tokens from source to delegate.
func approveCheckedIx(source, mint, delegate, owner string, amount uint64, decimals uint8) Instruction {
	data := []byte{splApproveChecked}
	data = appendU64(data, amount)
	data = append(data, decimals)

	return Instruction{
		ProgramID: solana.TokenProgramID,
		Accounts: []AccountMeta{
			meta(source, false, true),
			meta(mint, false, false),
			meta(delegate, false, false),
			meta(owner, true, false),
		},
		Data: data,
	}
}

// revokeIx clears any delegate on a token account.
func revokeIx(source, owner string) Instruction {
	return Instruction{
		ProgramID: solana.TokenProgramID,
		Accounts: []AccountMeta{
			meta(source, false, true),
			meta(owner, true, false),
		},
		Data: []byte{splRevoke},
	}
}

// createATAIx creates the associated token account for owner and mint,
// funded by payer. Idempotent only when the builder has checked absence.
func createATAIx(payer, ata, owner, mint string) Instruction {
	return Instruction{
		ProgramID: solana.ATAProgramID,
		Accounts: []AccountMeta{
			meta(payer, true, true),
			meta(ata, false, true),
			meta(owner, false, false),
			meta(mint, false, false),
			meta(solana.SystemProgramID, false, false),
			meta(solana.TokenProgramID, false, false),
		},
		Data: nil,
	}
}
