// verifier.go - Groth16 verification of withdrawal proofs.
//
// Verify is pure: it touches no state, and every way a proof can fail
// (undecodable proof or key, non-canonical input, bad pairing) surfaces as
// codes.ErrInvalidProof.

package proofgate

import (
	"bytes"
	"sync"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/solveil/veil/internal/codes"
	"github.com/solveil/veil/internal/shielded"
	"github.com/solveil/veil/internal/types"
)

// Verifier checks withdrawal proofs. Decoded verifying keys are cached by
// the keccak256 digest of their encoding.
type Verifier struct {
	mu      sync.RWMutex
	keys    map[types.Hash]groth16.VerifyingKey
	observe func(time.Duration, error)
}

// NewVerifier returns a Verifier with an empty key cache.
func NewVerifier() *Verifier {
	return &Verifier{keys: make(map[types.Hash]groth16.VerifyingKey)}
}

// OnVerify registers a hook called after every verification with its
// duration and result.
func (v *Verifier) OnVerify(fn func(time.Duration, error)) { v.observe = fn }

// Verify checks proof against verifyingKey and the public inputs.
func (v *Verifier) Verify(proof, verifyingKey []byte, in PublicInputs) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(codes.ErrInvalidProof, "verifier panic: %v", r)
		}
		if v.observe != nil {
			v.observe(time.Since(start), err)
		}
	}()

	if !shielded.IsCanonical(in.Root) || !shielded.IsCanonical(in.NullifierHash) {
		return errors.Wrap(codes.ErrInvalidProof, "public input not canonical")
	}
	vk, err := v.key(verifyingKey)
	if err != nil {
		return errors.Wrap(codes.ErrInvalidProof, err.Error())
	}
	p := groth16.NewProof(ecc.BN254)
	if _, err := p.ReadFrom(bytes.NewReader(proof)); err != nil {
		return errors.Wrapf(codes.ErrInvalidProof, "cannot unmarshal proof: %v", err)
	}
	w, err := frontend.NewWitness(in.Assignment(), ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return errors.Wrapf(codes.ErrInvalidProof, "cannot build public witness: %v", err)
	}
	if err := groth16.Verify(p, vk, w); err != nil {
		return errors.Wrapf(codes.ErrInvalidProof, "verification failed: %v", err)
	}
	return nil
}

func (v *Verifier) key(raw []byte) (groth16.VerifyingKey, error) {
	digest := types.Hash(crypto.Keccak256Hash(raw))
	v.mu.RLock()
	vk, ok := v.keys[digest]
	v.mu.RUnlock()
	if ok {
		return vk, nil
	}
	vk, err := ParseVerifyingKey(raw)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.keys[digest] = vk
	v.mu.Unlock()
	return vk, nil
}

// ParseVerifyingKey decodes a BN254 Groth16 verifying key.
func ParseVerifyingKey(raw []byte) (_ groth16.VerifyingKey, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("malformed verifying key: %v", r)
		}
	}()
	if len(raw) == 0 {
		return nil, errors.New("empty verifying key")
	}
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(raw)); err != nil {
		return nil, errors.Wrap(err, "cannot unmarshal verifying key")
	}
	if vk.NbPublicWitness() != 5 {
		return nil, errors.Errorf("verifying key expects %d public inputs, want 5", vk.NbPublicWitness())
	}
	return vk, nil
}
