// Package store owns the on-disk layout of a CA directory: the certificate,
// CRL, pending-certificate and private-key directories, the index file, and
// the serial counter. The serial allocator is the only piece of shared
// mutable state in the whole system; it is guarded by an exclusive advisory
// flock so that independent processes issuing against the same CA directory
// never hand out the same serial twice.
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrAlreadyInitialized is returned by InitLayout when the CA root directory
// already exists. The presence of the root directory is the sole
// initialization guard; callers must treat this as fatal and not attempt
// repair.
var ErrAlreadyInitialized = errors.New("CA directory already initialized")

const (
	certsDirName    = "certs"
	crlDirName      = "crl"
	newcertsDirName = "newcerts"
	privateDirName  = "private"
	indexFileName   = "index.txt"
	serialFileName  = "serial"

	// Issued serials start here; the root certificate consumes the first one.
	serialSeed = 1000
)

// Store gives path-level access to a single CA directory. It holds no state
// beyond the directory path; every operation re-reads the filesystem.
type Store struct {
	dir string
}

// New returns a Store for the CA directory at dir. The directory does not
// need to exist yet; InitLayout creates it.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the CA root directory path.
func (s *Store) Dir() string { return s.dir }

// CertPath returns the path where the certificate for name is stored.
func (s *Store) CertPath(name string) string {
	return filepath.Join(s.dir, certsDirName, name+".crt")
}

// KeyPath returns the path where the private key for name is stored.
func (s *Store) KeyPath(name string) string {
	return filepath.Join(s.dir, privateDirName, name+".key")
}

// SerialPath returns the path of the serial counter file.
func (s *Store) SerialPath() string {
	return filepath.Join(s.dir, serialFileName)
}

// IndexPath returns the path of the certificate index file.
func (s *Store) IndexPath() string {
	return filepath.Join(s.dir, indexFileName)
}

// PrivateDir returns the path of the private-key directory.
func (s *Store) PrivateDir() string {
	return filepath.Join(s.dir, privateDirName)
}

// CertsDir returns the path of the issued-certificates directory.
func (s *Store) CertsDir() string {
	return filepath.Join(s.dir, certsDirName)
}

// ---------------------------------------------------------------------------
// Layout bootstrap
// ---------------------------------------------------------------------------

// InitLayout creates the CA directory structure: the root directory plus
// certs/, crl/ and newcerts/ at 0755, and private/ at 0700 so that private
// keys are never group or world readable.
//
// It returns ErrAlreadyInitialized (wrapping the offending path) when the
// root directory exists. Directories created before a failure are left in
// place; the documented recovery is to delete the partial directory and
// retry.
func (s *Store) InitLayout() error {
	if _, err := os.Stat(s.dir); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, s.dir)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking CA directory: %w", err)
	}

	if err := os.Mkdir(s.dir, 0o755); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyInitialized, s.dir)
		}
		return fmt.Errorf("creating CA directory: %w", err)
	}
	for _, sub := range []string{certsDirName, crlDirName, newcertsDirName} {
		if err := os.Mkdir(filepath.Join(s.dir, sub), 0o755); err != nil {
			return fmt.Errorf("creating %s directory: %w", sub, err)
		}
	}
	if err := os.Mkdir(filepath.Join(s.dir, privateDirName), 0o700); err != nil {
		return fmt.Errorf("creating %s directory: %w", privateDirName, err)
	}
	return nil
}

// InitIndex creates the empty index file and seeds the serial counter file
// with the decimal text "1000".
func (s *Store) InitIndex() error {
	if err := os.WriteFile(s.IndexPath(), nil, 0o644); err != nil {
		return fmt.Errorf("creating index file: %w", err)
	}
	seed := strconv.FormatInt(serialSeed, 10)
	if err := os.WriteFile(s.SerialPath(), []byte(seed), 0o644); err != nil {
		return fmt.Errorf("creating serial file: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Serial allocation
// ---------------------------------------------------------------------------

// AllocateSerial reserves and returns the next certificate serial number.
//
// The serial file is opened read-write and an exclusive advisory flock is
// held for the whole read-increment-write cycle, so concurrent cooperating
// processes racing on the same CA directory each receive a distinct serial.
// The incremented value is committed before the caller signs anything; a
// crash mid-issuance therefore forfeits a serial rather than risking a
// duplicate. The lock blocks until acquired; there is no timeout path.
//
// Processes that bypass the flock are outside the contract.
func (s *Store) AllocateSerial() (int64, error) {
	f, err := os.OpenFile(s.SerialPath(), os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("opening serial file: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return 0, fmt.Errorf("locking serial file: %w", err)
	}
	// The lock is released implicitly when f is closed.

	data, err := io.ReadAll(f)
	if err != nil {
		return 0, fmt.Errorf("reading serial file: %w", err)
	}
	serial, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing serial %q: %w", string(data), err)
	}

	next := strconv.FormatInt(serial+1, 10)
	if err := f.Truncate(0); err != nil {
		return 0, fmt.Errorf("truncating serial file: %w", err)
	}
	if _, err := f.WriteAt([]byte(next), 0); err != nil {
		return 0, fmt.Errorf("writing serial file: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("committing serial file: %w", err)
	}
	return serial, nil
}
