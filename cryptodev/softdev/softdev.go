// Package softdev provides an in-process crypto facility implemented with
// Go hash functions. It follows the session semantics of the kernel
// facility and is used where /dev/crypto is not available.
package softdev

import (
	"crypto"
	"crypto/hmac"
	"hash"
	"strconv"
	"strings"

	// register hash functions
	_ "crypto/md5"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"

	//nolint:staticcheck
	_ "golang.org/x/crypto/ripemd160"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcryptodev/cryptodev", "softdev")

// Scheme is the device scheme of the facility, as in "soft:alignmask=15"
const Scheme = "soft"

// DriverName is reported in the session info
const DriverName = "softdev"

func init() {
	_ = cryptodev.Register(Scheme, Load)
}

// Verb identifies a facility verb for fault injection
type Verb int

// Verbs
const (
	VerbNewSession Verb = iota
	VerbCrypt
	VerbFreeSession
	VerbClose
)

// Stats provides facility counters
type Stats struct {
	SessionsCreated uint64
	SessionsFreed   uint64
	OpsPerformed    uint64
	OpsErrors       uint64
}

type session struct {
	alg cryptodev.Algorithm
	h   hash.Hash
}

// Facility is the in-process facility
type Facility struct {
	alignmask uint16
	nextID    uint32
	sessions  map[uint32]*session
	faults    map[Verb]error
	closed    bool
	stats     Stats
}

// Option configures the Facility
type Option func(*Facility)

// WithAlignmask sets the alignment mask reported for sessions
func WithAlignmask(mask uint16) Option {
	return func(f *Facility) {
		f.alignmask = mask
	}
}

// New returns a Facility
func New(opts ...Option) *Facility {
	f := &Facility{
		nextID:   1,
		sessions: make(map[uint32]*session),
		faults:   make(map[Verb]error),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Load is the cryptodev.Loader for the facility.
// The location is a comma separated list of key=value attributes,
// the only attribute is "alignmask", in decimal or 0x hex.
func Load(location string) (cryptodev.Facility, error) {
	var opts []Option
	for name, val := range parseAttributes(location) {
		switch name {
		case "alignmask":
			mask, err := strconv.ParseUint(val, 0, 16)
			if err != nil {
				return nil, errors.WithMessagef(err, "invalid alignmask: %q", val)
			}
			if mask&(mask+1) != 0 {
				return nil, errors.Errorf("alignmask must be 2^n-1: %q", val)
			}
			opts = append(opts, WithAlignmask(uint16(mask)))
		default:
			return nil, errors.Errorf("unknown attribute: %q", name)
		}
	}
	return New(opts...), nil
}

func parseAttributes(attributes string) map[string]string {
	res := make(map[string]string)
	for _, v := range strings.Split(attributes, ",") {
		if strings.TrimSpace(v) == "" {
			continue
		}
		name, val, _ := strings.Cut(v, "=")
		res[strings.TrimSpace(name)] = strings.TrimSpace(val)
	}
	return res
}

// SetFault makes the next calls of the verb fail with err,
// until it is reset with a nil err.
func (f *Facility) SetFault(verb Verb, err error) {
	if err == nil {
		delete(f.faults, verb)
		return
	}
	f.faults[verb] = err
}

// Stats returns the facility counters
func (f *Facility) Stats() Stats {
	return f.stats
}

// OpenSessions returns the number of sessions not freed yet
func (f *Facility) OpenSessions() int {
	return len(f.sessions)
}

// Closed returns true after Close
func (f *Facility) Closed() bool {
	return f.closed
}

// NewSession implements cryptodev.Facility
func (f *Facility) NewSession(req *cryptodev.SessionRequest) (*cryptodev.SessionInfo, error) {
	if err := f.check(VerbNewSession); err != nil {
		return nil, err
	}

	alg := req.Algorithm
	hf := alg.Hash()
	if !alg.Supported() || !hf.Available() {
		return nil, errors.Errorf("softdev: algorithm not supported: %s", alg)
	}

	var h hash.Hash
	if alg.Keyed() {
		if len(req.Key) == 0 {
			return nil, errors.Errorf("softdev: %s requires a key", alg)
		}
		key := append([]byte(nil), req.Key...)
		h = hmac.New(hf.New, key)
	} else {
		h = hf.New()
	}

	id := f.nextID
	f.nextID++
	f.sessions[id] = &session{alg: alg, h: h}
	f.stats.SessionsCreated++

	logger.KV(xlog.TRACE, "session", id, "alg", alg.String())

	return &cryptodev.SessionInfo{
		ID:        id,
		Alignmask: f.alignmask,
		Name:      alg.String(),
		Driver:    driverName(alg.Hash()),
	}, nil
}

// Crypt implements cryptodev.Facility
func (f *Facility) Crypt(req *cryptodev.CryptRequest) error {
	err := f.crypt(req)
	if err != nil {
		f.stats.OpsErrors++
		return err
	}
	f.stats.OpsPerformed++
	return nil
}

func (f *Facility) crypt(req *cryptodev.CryptRequest) error {
	if err := f.check(VerbCrypt); err != nil {
		return err
	}
	s, ok := f.sessions[req.Session]
	if !ok {
		return errors.Errorf("softdev: unknown session: %d", req.Session)
	}
	if len(req.MAC) < s.h.Size() {
		return errors.Errorf("softdev: digest buffer too small: %d", len(req.MAC))
	}
	if !cryptodev.IsAligned(req.Src, f.alignmask) || !cryptodev.IsAligned(req.MAC, f.alignmask) {
		return errors.New("softdev: buffer is not aligned")
	}

	s.h.Reset()
	_, _ = s.h.Write(req.Src)
	s.h.Sum(req.MAC[:0])
	return nil
}

// FreeSession implements cryptodev.Facility
func (f *Facility) FreeSession(id uint32) error {
	if err := f.check(VerbFreeSession); err != nil {
		return err
	}
	if _, ok := f.sessions[id]; !ok {
		return errors.Errorf("softdev: unknown session: %d", id)
	}
	delete(f.sessions, id)
	f.stats.SessionsFreed++
	return nil
}

// Close implements cryptodev.Facility
func (f *Facility) Close() error {
	if err := f.check(VerbClose); err != nil {
		return err
	}
	if n := len(f.sessions); n > 0 {
		logger.KV(xlog.WARNING, "reason", "leaked_sessions", "count", n)
	}
	f.closed = true
	f.sessions = make(map[uint32]*session)
	return nil
}

func (f *Facility) check(verb Verb) error {
	if f.closed {
		return errors.New("softdev: facility is closed")
	}
	if err := f.faults[verb]; err != nil {
		return err
	}
	return nil
}

func driverName(h crypto.Hash) string {
	return strings.ToLower(strings.ReplaceAll(h.String(), "-", "")) + "-" + DriverName
}
