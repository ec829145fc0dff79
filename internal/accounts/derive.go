/*

This file contains the deterministic storage derivation for program-owned
accounts.

Every position's storage addresses are derived from the protocol namespace
seeds plus the depositor identity, so a position handle always corresponds to
exactly one owner. The engine trusts handles produced here and performs no
further address verification.

*/

package accounts

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Seed values of the protocol namespace.
var (
	SeedConfigAccount     = []byte("config")
	SeedMintAccount       = []byte("mint")
	SeedCollateralAccount = []byte("collateral")
	SeedReserveAccount    = []byte("sol")
)

// Deriver derives program-owned storage addresses for one program ID.
type Deriver struct {
	programID solana.PublicKey
}

// NewDeriver creates a deriver for the given program.
func NewDeriver(programID string) (*Deriver, error) {
	pk, err := solana.PublicKeyFromBase58(programID)
	if err != nil {
		return nil, fmt.Errorf("invalid program ID %q: %w", programID, err)
	}
	return &Deriver{programID: pk}, nil
}

// ProgramID returns the program the deriver is anchored to.
func (d *Deriver) ProgramID() solana.PublicKey {
	return d.programID
}

// ConfigAccount derives the protocol configuration singleton address.
func (d *Deriver) ConfigAccount() (solana.PublicKey, uint8, error) {
	return d.derive([][]byte{SeedConfigAccount})
}

// MintAccount derives the issued-asset mint address.
func (d *Deriver) MintAccount() (solana.PublicKey, uint8, error) {
	return d.derive([][]byte{SeedMintAccount})
}

// CollateralAccount derives the position record address for a depositor.
func (d *Deriver) CollateralAccount(owner solana.PublicKey) (solana.PublicKey, uint8, error) {
	return d.derive([][]byte{SeedCollateralAccount, owner.Bytes()})
}

// ReserveAccount derives the custody account that holds a depositor's
// reserve asset.
func (d *Deriver) ReserveAccount(owner solana.PublicKey) (solana.PublicKey, uint8, error) {
	return d.derive([][]byte{SeedReserveAccount, owner.Bytes()})
}

func (d *Deriver) derive(seeds [][]byte) (solana.PublicKey, uint8, error) {
	address, bump, err := solana.FindProgramAddress(seeds, d.programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive program address: %w", err)
	}
	return address, bump, nil
}
