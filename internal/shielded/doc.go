// Package shielded holds the field arithmetic and hashing every shielded
// component agrees on.
//
// Overview:
//   - Hashes are MiMC over the BN254 scalar field, the same permutation the
//     withdrawal circuit uses in-circuit (gnark std/hash/mimc)
//   - A deposit commitment is H(nullifier, secret); the public nullifier hash
//     is H(nullifier)
//   - Accumulator nodes are H(left, right)
//   - Addresses enter the proof as a 248-bit digest (AddressToField)
//
// All values cross package boundaries as 32-byte big-endian types.Hash.
// A commitment supplied by a user must be canonical (strictly below r) and
// non-zero; IsCanonical enforces the first half.
package shielded
