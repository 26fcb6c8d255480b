// Package ca composes the store, key and issuer layers into the two
// operations a private CA needs: Init, which bootstraps the directory
// layout and the self-signed root, and IssueLeaf, which creates a new
// certificate signed by the root.
//
// A CA value is a stateless facade recomputed from configuration on every
// invocation; the CA directory on disk is the sole persistent store.
package ca

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jmcleod/simpleca/issuer"
	"github.com/jmcleod/simpleca/keys"
	"github.com/jmcleod/simpleca/store"
)

// ErrMissingRootState is returned when issuance is attempted against a CA
// directory whose root key or certificate is absent, typically because Init
// never ran or the directory is corrupted.
var ErrMissingRootState = errors.New("CA root state missing")

const (
	// DefaultKeyBits is the RSA strength used when no option overrides it.
	DefaultKeyBits = 4096

	// DefaultRootCN is the root certificate's common name.
	DefaultRootCN = "ca"

	// rootValidityDays pins the root certificate's validity window.
	rootValidityDays = 30 * 365
)

// CA is a facade over a single CA directory. Construct one with New; the
// zero value is not usable.
type CA struct {
	st      *store.Store
	keyBits int
	rootCN  string
}

// Option configures a CA.
type Option func(*CA)

// WithKeyBits sets the RSA key strength for generated key pairs.
func WithKeyBits(bits int) Option {
	return func(c *CA) {
		c.keyBits = bits
	}
}

// WithRootCN sets the root certificate's common name.
func WithRootCN(cn string) Option {
	return func(c *CA) {
		c.rootCN = cn
	}
}

// New returns a CA for the directory at dir. The directory need not exist
// until Init is called.
func New(dir string, opts ...Option) *CA {
	c := &CA{
		st:      store.New(dir),
		keyBits: DefaultKeyBits,
		rootCN:  DefaultRootCN,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dir returns the CA directory path.
func (c *CA) Dir() string { return c.st.Dir() }

// Init bootstraps the CA: directory layout, index and serial files, the
// root key pair, and the self-signed root certificate (CA:TRUE, pathlen:0,
// valid for 30 years). It fails with store.ErrAlreadyInitialized when the
// CA directory exists.
//
// A failure part-way leaves whatever was created in place; the recovery is
// to delete the partial directory and run Init again.
func (c *CA) Init() error {
	if err := c.st.InitLayout(); err != nil {
		return err
	}
	if err := c.st.InitIndex(); err != nil {
		return err
	}

	priv, err := keys.Create(c.st, c.rootCN, c.keyBits)
	if err != nil {
		return fmt.Errorf("creating root key: %w", err)
	}

	constraints, err := issuer.CAConstraints()
	if err != nil {
		return err
	}
	_, err = issuer.Issue(c.st, c.rootCN, c.rootCN, priv.Public(), priv, issuer.Options{
		ValidityDays: rootValidityDays,
		Extensions:   []pkix.Extension{constraints},
	})
	if err != nil {
		return fmt.Errorf("creating root certificate: %w", err)
	}
	return nil
}

// IssueLeaf creates a key pair and certificate for commonName, signed by
// the root key. Any extensions are copied into the certificate verbatim.
// It requires a prior successful Init; a missing root key surfaces as
// ErrMissingRootState.
func (c *CA) IssueLeaf(commonName string, exts ...pkix.Extension) (*x509.Certificate, error) {
	signer, err := keys.Load(c.st, c.rootCN)
	if err != nil {
		if errors.Is(err, keys.ErrMissingKey) {
			return nil, fmt.Errorf("%w: %v", ErrMissingRootState, err)
		}
		return nil, err
	}

	priv, err := keys.Create(c.st, commonName, c.keyBits)
	if err != nil {
		return nil, fmt.Errorf("creating key for %q: %w", commonName, err)
	}

	cert, err := issuer.Issue(c.st, commonName, c.rootCN, priv.Public(), signer, issuer.Options{
		Extensions: exts,
	})
	if err != nil {
		return nil, fmt.Errorf("issuing certificate for %q: %w", commonName, err)
	}
	return cert, nil
}

// RootCertificate loads the root certificate from disk.
func (c *CA) RootCertificate() (*x509.Certificate, error) {
	cert, err := issuer.ReadCert(c.st.CertPath(c.rootCN))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissingRootState, c.st.CertPath(c.rootCN))
		}
		return nil, err
	}
	return cert, nil
}

// Info is a read-only summary of an initialized CA directory.
type Info struct {
	Subject    string
	NotBefore  string
	NotAfter   string
	NextSerial int64
	CertCount  int
}

// Info summarises the CA: the root subject, its validity window, the next
// serial to be handed out, and how many certificates (root included) have
// been issued.
func (c *CA) Info() (*Info, error) {
	root, err := c.RootCertificate()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(c.st.SerialPath())
	if err != nil {
		return nil, fmt.Errorf("reading serial file: %w", err)
	}
	next, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing serial %q: %w", string(data), err)
	}

	matches, err := filepath.Glob(filepath.Join(c.st.CertsDir(), "*.crt"))
	if err != nil {
		return nil, err
	}

	return &Info{
		Subject:    issuer.PrettyName(root.Subject),
		NotBefore:  root.NotBefore.Format("2006-01-02 15:04:05 MST"),
		NotAfter:   root.NotAfter.Format("2006-01-02 15:04:05 MST"),
		NextSerial: next,
		CertCount:  len(matches),
	}, nil
}
