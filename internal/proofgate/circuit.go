package proofgate

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// WithdrawCircuit proves knowledge of (nullifier, secret) whose commitment
// is a leaf under Root, and publishes H(nullifier).
//
// Public inputs, in witness order: Root, NullifierHash, Recipient, Relayer,
// Fee. The last three are not used by the statement; the circuit squares
// them so a proof cannot be replayed with different values.
type WithdrawCircuit struct {
	// Public
	Root          frontend.Variable `gnark:",public"`
	NullifierHash frontend.Variable `gnark:",public"`
	Recipient     frontend.Variable `gnark:",public"`
	Relayer       frontend.Variable `gnark:",public"`
	Fee           frontend.Variable `gnark:",public"`

	// Private
	Nullifier    frontend.Variable
	Secret       frontend.Variable
	PathElements []frontend.Variable
	PathIndices  []frontend.Variable
}

// NewCircuit allocates a circuit for a tree of the given depth.
func NewCircuit(depth int) *WithdrawCircuit {
	return &WithdrawCircuit{
		PathElements: make([]frontend.Variable, depth),
		PathIndices:  make([]frontend.Variable, depth),
	}
}

func (c *WithdrawCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	// (1) Nullifier hash
	h.Write(c.Nullifier)
	api.AssertIsEqual(c.NullifierHash, h.Sum())

	// (2) Commitment
	h.Reset()
	h.Write(c.Nullifier, c.Secret)
	cur := h.Sum()

	// (3) Merkle path
	for i := range c.PathElements {
		api.AssertIsBoolean(c.PathIndices[i])
		left := api.Select(c.PathIndices[i], c.PathElements[i], cur)
		right := api.Select(c.PathIndices[i], cur, c.PathElements[i])
		h.Reset()
		h.Write(left, right)
		cur = h.Sum()
	}
	api.AssertIsEqual(c.Root, cur)

	// (4) Bind recipient, relayer and fee
	api.Mul(c.Recipient, c.Recipient)
	api.Mul(c.Relayer, c.Relayer)
	api.Mul(c.Fee, c.Fee)
	return nil
}
