package issuer_test

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/simpleca/issuer"
	"github.com/jmcleod/simpleca/store"
)

const testKeyBits = 1024

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st := store.New(filepath.Join(t.TempDir(), "ca"))
	require.NoError(t, st.InitLayout())
	require.NoError(t, st.InitIndex())
	return st
}

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, testKeyBits)
	require.NoError(t, err)
	return priv
}

func TestIssue_SelfSigned(t *testing.T) {
	st := newTestStore(t)
	priv := newTestKey(t)

	constraints, err := issuer.CAConstraints()
	require.NoError(t, err)

	cert, err := issuer.Issue(st, "ca", "ca", priv.Public(), priv, issuer.Options{
		ValidityDays: 30 * 365,
		Extensions:   []pkix.Extension{constraints},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1000), cert.SerialNumber.Int64())
	assert.Equal(t, "ca", cert.Subject.CommonName)
	assert.Equal(t, "ca", cert.Issuer.CommonName)
	assert.True(t, cert.IsCA)
	assert.True(t, cert.MaxPathLenZero)
	assert.Equal(t, 0, cert.MaxPathLen)

	// Self-signed: the certificate verifies against its own key.
	assert.NoError(t, cert.CheckSignatureFrom(cert))

	// Validity window is exactly 30 years of days, to the second.
	assert.Equal(t, cert.NotBefore.AddDate(0, 0, 30*365), cert.NotAfter)
	assert.WithinDuration(t, time.Now().UTC(), cert.NotBefore, 30*time.Second)
}

func TestIssue_LeafSignedByRoot(t *testing.T) {
	st := newTestStore(t)
	rootKey := newTestKey(t)
	leafKey := newTestKey(t)

	constraints, err := issuer.CAConstraints()
	require.NoError(t, err)
	root, err := issuer.Issue(st, "ca", "ca", rootKey.Public(), rootKey, issuer.Options{
		ValidityDays: 30 * 365,
		Extensions:   []pkix.Extension{constraints},
	})
	require.NoError(t, err)

	leaf, err := issuer.Issue(st, "www.example.com", "ca", leafKey.Public(), rootKey, issuer.Options{})
	require.NoError(t, err)

	assert.Equal(t, int64(1001), leaf.SerialNumber.Int64())
	assert.Equal(t, "www.example.com", leaf.Subject.CommonName)
	assert.Equal(t, "ca", leaf.Issuer.CommonName)
	assert.False(t, leaf.IsCA)

	// Default validity is 365 days.
	assert.Equal(t, leaf.NotBefore.AddDate(0, 0, 365), leaf.NotAfter)

	assert.NoError(t, leaf.CheckSignatureFrom(root))
}

func TestIssue_HeaderRoundTrip(t *testing.T) {
	st := newTestStore(t)
	priv := newTestKey(t)

	_, err := issuer.Issue(st, "www.example.com", "ca", priv.Public(), priv, issuer.Options{})
	require.NoError(t, err)

	data, err := os.ReadFile(st.CertPath("www.example.com"))
	require.NoError(t, err)

	lines := strings.SplitN(string(data), "\n", 3)
	require.Len(t, lines, 3)
	assert.Equal(t, "subject=/CN=www.example.com", lines[0])
	assert.Equal(t, "issuer=/CN=ca", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "-----BEGIN CERTIFICATE-----"))
}

// failingSigner refuses to sign, simulating a crash between serial
// allocation and signature.
type failingSigner struct {
	*rsa.PrivateKey
}

func (f *failingSigner) Sign(_ io.Reader, _ []byte, _ crypto.SignerOpts) ([]byte, error) {
	return nil, errors.New("signer unavailable")
}

func TestIssue_SerialCommittedBeforeSigning(t *testing.T) {
	st := newTestStore(t)
	priv := newTestKey(t)

	// A failure after allocation forfeits the serial, never reuses it.
	_, err := issuer.Issue(st, "broken", "ca", priv.Public(), &failingSigner{priv}, issuer.Options{})
	require.Error(t, err)

	serial, err := st.AllocateSerial()
	require.NoError(t, err)
	assert.Equal(t, int64(1001), serial)
}

func TestIssue_InvalidOptions(t *testing.T) {
	st := newTestStore(t)
	priv := newTestKey(t)

	_, err := issuer.Issue(st, "x", "ca", priv.Public(), priv, issuer.Options{ValidityDays: -1})
	require.Error(t, err)

	_, err = issuer.Issue(st, "x", "ca", priv.Public(), priv, issuer.Options{Version: 2})
	require.Error(t, err)
}

func TestReadCert(t *testing.T) {
	st := newTestStore(t)
	priv := newTestKey(t)

	issued, err := issuer.Issue(st, "www.example.com", "ca", priv.Public(), priv, issuer.Options{})
	require.NoError(t, err)

	loaded, err := issuer.ReadCert(st.CertPath("www.example.com"))
	require.NoError(t, err)
	assert.Equal(t, issued.Raw, loaded.Raw)
}

func TestPrettyName(t *testing.T) {
	name := pkix.Name{
		Country:            []string{"FR"},
		Province:           []string{"IDF"},
		Locality:           []string{"Paris"},
		Organization:       []string{"Example"},
		OrganizationalUnit: []string{"Ops"},
		CommonName:         "www.example.com",
		Names: []pkix.AttributeTypeAndValue{
			{Type: asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}, Value: "admin@example.com"},
		},
	}

	want := "/C=FR/ST=IDF/L=Paris/O=Example/OU=Ops/CN=www.example.com/emailAddress=admin@example.com"
	assert.Equal(t, want, issuer.PrettyName(name))

	assert.Equal(t, "/CN=ca", issuer.PrettyName(pkix.Name{CommonName: "ca"}))
	assert.Equal(t, "", issuer.PrettyName(pkix.Name{}))
}
