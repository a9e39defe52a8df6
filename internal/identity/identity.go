// Package identity holds the ed25519 author keypairs that sign documents.
//
// An author address has the form "@name.b<base32 public key>", where name is
// four lowercase letters or digits starting with a letter.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidAddress reports a malformed author address.
	ErrInvalidAddress = errors.New("invalid author address")
	// ErrInvalidSecret reports a secret that does not match its address.
	ErrInvalidSecret = errors.New("invalid author secret")
	// ErrBadSignature reports a signature that does not verify.
	ErrBadSignature = errors.New("signature does not verify")
)

var (
	enc       = base32.StdEncoding.WithPadding(base32.NoPadding)
	shortname = regexp.MustCompile(`^[a-z][a-z0-9]{3}$`)
)

// Keypair is an author's signing identity.
type Keypair struct {
	Address string
	secret  ed25519.PrivateKey
}

// Generate creates a fresh keypair for the given four character shortname.
func Generate(name string) (*Keypair, error) {
	if !shortname.MatchString(name) {
		return nil, fmt.Errorf("%w: shortname %q must be 4 chars [a-z][a-z0-9]", ErrInvalidAddress, name)
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Keypair{Address: formatAddress(name, pub), secret: priv}, nil
}

// Parse rebuilds a keypair from an address and the secret returned by
// Secret.
func Parse(address, secret string) (*Keypair, error) {
	pub, err := PublicKey(address)
	if err != nil {
		return nil, err
	}
	seed, err := decode(secret)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, ErrInvalidSecret
	}
	priv := ed25519.NewKeyFromSeed(seed)
	if !pub.Equal(priv.Public()) {
		return nil, ErrInvalidSecret
	}
	return &Keypair{Address: address, secret: priv}, nil
}

// Secret returns the encoded private seed.
func (k *Keypair) Secret() string {
	return "b" + strings.ToLower(enc.EncodeToString(k.secret.Seed()))
}

// Sign signs data with the keypair.
func (k *Keypair) Sign(data []byte) string {
	h := sha256.Sum256(data)
	return "b" + strings.ToLower(enc.EncodeToString(ed25519.Sign(k.secret, h[:])))
}

// Verify checks that sig is address's signature of data.
func Verify(address string, data []byte, sig string) error {
	pub, err := PublicKey(address)
	if err != nil {
		return err
	}
	raw, err := decode(sig)
	if err != nil {
		return ErrBadSignature
	}
	h := sha256.Sum256(data)
	if !ed25519.Verify(pub, h[:], raw) {
		return ErrBadSignature
	}
	return nil
}

// PublicKey extracts the public key from an author address.
func PublicKey(address string) (ed25519.PublicKey, error) {
	rest, ok := strings.CutPrefix(address, "@")
	if !ok {
		return nil, ErrInvalidAddress
	}
	name, key, ok := strings.Cut(rest, ".")
	if !ok || !shortname.MatchString(name) {
		return nil, ErrInvalidAddress
	}
	raw, err := decode(key)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, ErrInvalidAddress
	}
	return ed25519.PublicKey(raw), nil
}

func formatAddress(name string, pub ed25519.PublicKey) string {
	return "@" + name + ".b" + strings.ToLower(enc.EncodeToString(pub))
}

func decode(s string) ([]byte, error) {
	rest, ok := strings.CutPrefix(s, "b")
	if !ok {
		return nil, errors.New("missing multibase prefix")
	}
	return enc.DecodeString(strings.ToUpper(rest))
}
