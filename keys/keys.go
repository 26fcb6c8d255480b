// Package keys generates and persists the RSA key material backing CA
// certificates. Each key pair is named after the certificate it belongs to
// (the root CA's own name, or a leaf's common name) and is written exactly
// once: an existing key file for a requested name is a hard conflict, never
// an overwrite, so a certificate can never be orphaned from its key.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/simpleca/store"
)

var (
	// ErrKeyExists is returned when a key file for the requested name is
	// already present. The existing file is left untouched.
	ErrKeyExists = errors.New("private key already exists")

	// ErrMissingKey is returned when the requested key file is absent,
	// typically because issuance was attempted against an uninitialized CA.
	ErrMissingKey = errors.New("private key not found")
)

const keyPEMType = "RSA PRIVATE KEY"

// Create generates an RSA key pair of the requested bit length and persists
// the private key as PKCS#1 PEM at <ca-dir>/private/<name>.key, mode 0600.
// The private-key directory itself is 0700; no passphrase protection is
// applied beyond the file permissions.
//
// Creation is exclusive: if the key file already exists, Create fails with
// ErrKeyExists and leaves it byte-for-byte unchanged. Two processes racing
// to create the same name are serialized by O_EXCL; exactly one wins.
func Create(st *store.Store, name string, bits int) (*rsa.PrivateKey, error) {
	if bits < 1024 {
		return nil, fmt.Errorf("key size %d is below the 1024-bit minimum", bits)
	}

	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generating %d-bit RSA key: %w", bits, err)
	}

	path := st.KeyPath(name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrKeyExists, path)
		}
		return nil, fmt.Errorf("creating key file: %w", err)
	}

	der := x509.MarshalPKCS1PrivateKey(priv)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: keyPEMType, Bytes: der})
	_, werr := f.Write(pemBytes)
	cerr := f.Close()

	// Scrub the serialized copies; only the file and the returned key
	// object keep the material.
	memguard.WipeBytes(der)
	memguard.WipeBytes(pemBytes)

	if werr != nil {
		return nil, fmt.Errorf("writing key file: %w", werr)
	}
	if cerr != nil {
		return nil, fmt.Errorf("closing key file: %w", cerr)
	}
	return priv, nil
}

// Load reads and parses the private key for name. A missing key file maps to
// ErrMissingKey so callers can distinguish an uninitialized CA from an I/O
// failure.
func Load(st *store.Store, name string) (*rsa.PrivateKey, error) {
	path := st.KeyPath(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissingKey, path)
		}
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	defer memguard.WipeBytes(data)

	block, _ := pem.Decode(data)
	if block == nil || block.Type != keyPEMType {
		return nil, fmt.Errorf("%s: no %s PEM block", path, keyPEMType)
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return priv, nil
}
