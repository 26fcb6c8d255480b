// Package issuer builds, signs and persists X.509 certificates for a CA
// directory. It ties serial allocation, the validity window, the requested
// extension set and the root signature together into a single issuance
// operation, and writes the result as a PEM document prefixed with a
// human-readable subject/issuer summary.
package issuer

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/jmcleod/simpleca/store"
)

// DefaultValidityDays is the leaf validity window applied when Options does
// not specify one.
const DefaultValidityDays = 365

const certPEMType = "CERTIFICATE"

// oidEmailAddress is the PKCS#9 emailAddress attribute carried inside
// subject DNs.
var oidEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

// Options control a single issuance. The zero value issues a version 1
// certificate valid for DefaultValidityDays with no extensions.
type Options struct {
	// ValidityDays is the length of the validity window in days,
	// starting now. Defaults to DefaultValidityDays.
	ValidityDays int

	// Version is the requested X.509 version, 1 or 3. Defaults to 1.
	// Certificates carrying extensions are always encoded as version 3
	// regardless of this setting.
	Version int

	// Extensions are copied verbatim into the certificate.
	Extensions []pkix.Extension
}

func (o Options) withDefaults() Options {
	if o.ValidityDays == 0 {
		o.ValidityDays = DefaultValidityDays
	}
	if o.Version == 0 {
		o.Version = 1
	}
	return o
}

func (o Options) validate() error {
	if o.ValidityDays < 1 {
		return fmt.Errorf("validity of %d days is not positive", o.ValidityDays)
	}
	if o.Version != 1 && o.Version != 3 {
		return fmt.Errorf("unsupported certificate version %d", o.Version)
	}
	return nil
}

// CAConstraints returns the critical basicConstraints extension marking a
// certificate as a CA with path length constraint 0 (CA:TRUE, pathlen:0).
// The root certificate is self-signed with exactly this extension.
func CAConstraints() (pkix.Extension, error) {
	der, err := asn1.Marshal(struct {
		IsCA       bool
		MaxPathLen int
	}{IsCA: true, MaxPathLen: 0})
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("encoding basicConstraints: %w", err)
	}
	return pkix.Extension{
		Id:       asn1.ObjectIdentifier{2, 5, 29, 19},
		Critical: true,
		Value:    der,
	}, nil
}

// Issue creates a certificate for subjectCN signed by signer, allocates its
// serial from the store, and persists it under <ca-dir>/certs/<subjectCN>.crt.
//
// The validity window starts now (UTC, second precision) and ends
// opts.ValidityDays later. SHA-256 is the only supported digest. Self-signing
// is the special case where signer is the certificate's own private key and
// issuerCN equals subjectCN.
//
// The serial counter is committed before the signature is produced, so an
// issuance that fails past allocation forfeits that serial instead of ever
// reusing it.
func Issue(st *store.Store, subjectCN, issuerCN string, pub crypto.PublicKey, signer crypto.Signer, opts Options) (*x509.Certificate, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	notBefore := time.Now().UTC().Truncate(time.Second)
	notAfter := notBefore.AddDate(0, 0, opts.ValidityDays)

	serial, err := st.AllocateSerial()
	if err != nil {
		return nil, fmt.Errorf("allocating serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber:       big.NewInt(serial),
		Subject:            pkix.Name{CommonName: subjectCN},
		NotBefore:          notBefore,
		NotAfter:           notAfter,
		SignatureAlgorithm: x509.SHA256WithRSA,
		ExtraExtensions:    opts.Extensions,
	}
	parent := &x509.Certificate{
		Subject: pkix.Name{CommonName: issuerCN},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, parent, pub, signer)
	if err != nil {
		return nil, fmt.Errorf("signing certificate for %q: %w", subjectCN, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing signed certificate: %w", err)
	}

	if err := writeCert(st.CertPath(subjectCN), cert); err != nil {
		return nil, err
	}
	return cert, nil
}

// writeCert persists the two-line subject/issuer summary followed by the
// PEM-encoded certificate.
func writeCert(path string, cert *x509.Certificate) error {
	header := "subject=" + PrettyName(cert.Subject) + "\n" +
		"issuer=" + PrettyName(cert.Issuer) + "\n"
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: certPEMType, Bytes: cert.Raw})
	if err := os.WriteFile(path, append([]byte(header), pemBytes...), 0o644); err != nil {
		return fmt.Errorf("writing certificate: %w", err)
	}
	return nil
}

// ReadCert loads a persisted certificate, skipping the human-readable
// summary lines that precede the PEM block.
func ReadCert(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != certPEMType {
		return nil, fmt.Errorf("%s: no %s PEM block", path, certPEMType)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cert, nil
}

// PrettyName renders a DN the way OpenSSL's one-line format does: present
// fields in the fixed order C, ST, L, O, OU, CN, emailAddress, each as
// /FIELD=value, absent fields omitted entirely.
func PrettyName(name pkix.Name) string {
	var pretty string
	for _, c := range name.Country {
		pretty += "/C=" + c
	}
	for _, st := range name.Province {
		pretty += "/ST=" + st
	}
	for _, l := range name.Locality {
		pretty += "/L=" + l
	}
	for _, o := range name.Organization {
		pretty += "/O=" + o
	}
	for _, ou := range name.OrganizationalUnit {
		pretty += "/OU=" + ou
	}
	if name.CommonName != "" {
		pretty += "/CN=" + name.CommonName
	}
	for _, atv := range name.Names {
		if atv.Type.Equal(oidEmailAddress) {
			if email, ok := atv.Value.(string); ok {
				pretty += "/emailAddress=" + email
			}
		}
	}
	return pretty
}
