package cryptodev

import (
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// SessionRequest describes a session to be created by a Facility
type SessionRequest struct {
	Algorithm Algorithm
	// Key is the MAC key, empty for unkeyed digests
	Key []byte
}

// SessionInfo describes a session created by a Facility
type SessionInfo struct {
	// ID is the facility session identifier
	ID uint32
	// Alignmask is the alignment the facility requires for buffers,
	// zero if any alignment is accepted
	Alignmask uint16
	// Name is the algorithm name reported by the facility
	Name string
	// Driver is the name of the driver implementing the algorithm
	Driver string
	// Hardware is true if the driver is a hardware implementation
	Hardware bool
}

// CryptRequest is a single digest request
type CryptRequest struct {
	Session uint32
	Src     []byte
	// MAC receives the digest, its length is the digest size of the session
	MAC []byte
}

// Facility is the verb set of a crypto facility.
// Implementations are not required to be safe for concurrent use.
type Facility interface {
	// NewSession creates a session
	NewSession(req *SessionRequest) (*SessionInfo, error)
	// Crypt performs one digest operation
	Crypt(req *CryptRequest) error
	// FreeSession releases a session
	FreeSession(id uint32) error
	// Close releases the facility
	Close() error
}

// Loader opens a Facility at the location
type Loader func(location string) (Facility, error)

var (
	lockLoaders sync.RWMutex
	loaders     = make(map[string]Loader)
)

// Register facility loader by scheme
func Register(scheme string, loader Loader) error {
	lockLoaders.Lock()
	defer lockLoaders.Unlock()

	if _, ok := loaders[scheme]; ok {
		return errors.Errorf("already registered: %s", scheme)
	}

	loaders[scheme] = loader

	return nil
}

// Unregister facility loader by scheme
func Unregister(scheme string) (Loader, error) {
	lockLoaders.Lock()
	defer lockLoaders.Unlock()

	if loader, ok := loaders[scheme]; ok {
		delete(loaders, scheme)
		return loader, nil
	}

	return nil, errors.Errorf("not registered: %s", scheme)
}

// Registered returns registered schemes
func Registered() []string {
	lockLoaders.RLock()
	defer lockLoaders.RUnlock()

	list := []string{}
	for m := range loaders {
		list = append(list, m)
	}
	sort.Strings(list)
	return list
}

// splitScheme splits "<scheme>:<location>" paths. Absolute paths have no scheme.
func splitScheme(path string) (scheme, location string, ok bool) {
	if strings.HasPrefix(path, "/") {
		return "", "", false
	}
	return strings.Cut(path, ":")
}

func getLoader(scheme string) (Loader, bool) {
	lockLoaders.RLock()
	defer lockLoaders.RUnlock()
	loader, ok := loaders[scheme]
	return loader, ok
}
