package proofgate

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/solveil/veil/internal/shielded"
	"github.com/solveil/veil/internal/types"
)

// PublicInputs are the values a withdrawal proof is checked against.
type PublicInputs struct {
	Root          types.Hash
	NullifierHash types.Hash
	Recipient     types.Address
	Relayer       types.Address
	Fee           uint64
}

// Vector returns the inputs as field elements in witness order:
// [root, nullifierHash, recipient, relayer, fee].
func (in PublicInputs) Vector() [5]fr.Element {
	var fee fr.Element
	fee.SetUint64(in.Fee)
	return [5]fr.Element{
		shielded.ToElement(in.Root),
		shielded.ToElement(in.NullifierHash),
		shielded.AddressToField(in.Recipient),
		shielded.AddressToField(in.Relayer),
		fee,
	}
}

// Assignment returns a circuit assignment with only the public fields set.
func (in PublicInputs) Assignment() *WithdrawCircuit {
	v := in.Vector()
	return &WithdrawCircuit{
		Root:          v[0].BigInt(new(big.Int)),
		NullifierHash: v[1].BigInt(new(big.Int)),
		Recipient:     v[2].BigInt(new(big.Int)),
		Relayer:       v[3].BigInt(new(big.Int)),
		Fee:           v[4].BigInt(new(big.Int)),
	}
}
