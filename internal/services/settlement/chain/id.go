package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// AgreementID derives the on-chain agreement handle from a proposal id.
//
// The mapping is pinned: keccak-256 over the UTF-8 bytes of the proposal id
// string, interpreted as a big-endian unsigned 256-bit integer. Any process
// or language that derives ids for the same contract must reproduce exactly
// this encoding.
func AgreementID(proposalID string) *big.Int {
	digest := crypto.Keccak256([]byte(proposalID))
	return new(big.Int).SetBytes(digest)
}
