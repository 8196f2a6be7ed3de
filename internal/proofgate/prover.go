package proofgate

import (
	"bytes"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/pkg/errors"

	"github.com/solveil/veil/internal/accumulator"
	"github.com/solveil/veil/internal/shielded"
)

// Witness is everything a depositor needs to prove a withdrawal.
type Witness struct {
	Note   *shielded.Note
	Path   accumulator.Path
	Public PublicInputs
}

// BuildAssignment fills the full circuit assignment for w.
func BuildAssignment(w Witness) *WithdrawCircuit {
	c := w.Public.Assignment()
	depth := len(w.Path.Elements)
	c.Nullifier = w.Note.Nullifier.BigInt(new(big.Int))
	c.Secret = w.Note.Secret.BigInt(new(big.Int))
	c.PathElements = make([]frontend.Variable, depth)
	c.PathIndices = make([]frontend.Variable, depth)
	for i := 0; i < depth; i++ {
		c.PathElements[i] = shielded.BigInt(w.Path.Elements[i])
		c.PathIndices[i] = int(w.Path.Indices[i])
	}
	return c
}

// Prove generates a serialized Groth16 proof for w.
func Prove(ccs constraint.ConstraintSystem, pk groth16.ProvingKey, w Witness) ([]byte, error) {
	full, err := frontend.NewWitness(BuildAssignment(w), ecc.BN254.ScalarField())
	if err != nil {
		return nil, errors.Wrap(err, "witness creation failed")
	}
	proof, err := groth16.Prove(ccs, pk, full)
	if err != nil {
		return nil, errors.Wrap(err, "proof generation failed")
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "proof marshaling failed")
	}
	return buf.Bytes(), nil
}

// Prover bundles a compiled circuit with its Groth16 keys.
type Prover struct {
	Depth        int
	CCS          constraint.ConstraintSystem
	ProvingKey   groth16.ProvingKey
	VerifyingKey []byte
}

// NewProver compiles the circuit for depth and loads or creates its keys in
// keyDir. An empty keyDir runs a throwaway setup without touching disk.
func NewProver(depth int, keyDir string) (*Prover, error) {
	ccs, err := Compile(depth)
	if err != nil {
		return nil, err
	}
	var (
		pk groth16.ProvingKey
		vk groth16.VerifyingKey
	)
	if keyDir == "" {
		pk, vk, err = groth16.Setup(ccs)
	} else {
		pkPath, vkPath := KeyPaths(keyDir, depth)
		pk, vk, err = SetupOrLoadKeys(ccs, pkPath, vkPath)
	}
	if err != nil {
		return nil, err
	}
	raw, err := MarshalVerifyingKey(vk)
	if err != nil {
		return nil, err
	}
	return &Prover{Depth: depth, CCS: ccs, ProvingKey: pk, VerifyingKey: raw}, nil
}

// Prove generates a proof for w with p's keys.
func (p *Prover) Prove(w Witness) ([]byte, error) {
	if len(w.Path.Elements) != p.Depth {
		return nil, errors.Errorf("path has %d levels, circuit expects %d", len(w.Path.Elements), p.Depth)
	}
	return Prove(p.CCS, p.ProvingKey, w)
}
