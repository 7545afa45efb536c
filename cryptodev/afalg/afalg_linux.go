//go:build linux

package afalg

import (
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/effective-security/xlog"
	"golang.org/x/sys/unix"
)

// A socket is a wrapper around the AF_ALG system calls, to enable
// testing without the kernel crypto API.
type socket interface {
	Accept() (socket, error)
	Bind(sa unix.Sockaddr) error
	SetKey(key []byte) error
	Send(p []byte, flags int) error
	Read(p []byte) (int, error)
	Close() error
}

type session struct {
	alg  cryptodev.Algorithm
	tfm  socket
	op   socket
	size int
}

// Facility is the AF_ALG facility
type Facility struct {
	dial     func() (socket, error)
	nextID   uint32
	sessions map[uint32]*session
	closed   bool
}

// Load is the cryptodev.Loader for the facility, the location must be empty
func Load(location string) (cryptodev.Facility, error) {
	if location != "" {
		return nil, errors.Errorf("afalg: unexpected location: %q", location)
	}
	return New()
}

// New returns the AF_ALG facility,
// it fails if the kernel does not provide AF_ALG sockets.
func New() (*Facility, error) {
	s, err := dial()
	if err != nil {
		return nil, err
	}
	_ = s.Close()
	return newFacility(dial), nil
}

func newFacility(dial func() (socket, error)) *Facility {
	return &Facility{
		dial:     dial,
		nextID:   1,
		sessions: make(map[uint32]*session),
	}
}

// NewSession implements cryptodev.Facility
func (f *Facility) NewSession(req *cryptodev.SessionRequest) (*cryptodev.SessionInfo, error) {
	if f.closed {
		return nil, errors.New("afalg: facility is closed")
	}
	name, ok := algNames[req.Algorithm]
	if !ok {
		return nil, errors.Errorf("afalg: algorithm not supported: %s", req.Algorithm)
	}

	tfm, err := f.dial()
	if err != nil {
		return nil, err
	}

	op, err := bind(tfm, name, req)
	if err != nil {
		_ = tfm.Close()
		return nil, err
	}

	id := f.nextID
	f.nextID++
	f.sessions[id] = &session{
		alg:  req.Algorithm,
		tfm:  tfm,
		op:   op,
		size: req.Algorithm.DigestSize(),
	}

	logger.KV(xlog.TRACE, "session", id, "alg", name)

	return &cryptodev.SessionInfo{
		ID:   id,
		Name: name,
	}, nil
}

func bind(tfm socket, name string, req *cryptodev.SessionRequest) (socket, error) {
	err := tfm.Bind(&unix.SockaddrALG{Type: "hash", Name: name})
	if err != nil {
		return nil, errors.WithMessagef(err, "afalg: bind %s", name)
	}
	if req.Algorithm.Keyed() {
		if err = tfm.SetKey(req.Key); err != nil {
			return nil, errors.WithMessagef(err, "afalg: set key")
		}
	}
	op, err := tfm.Accept()
	if err != nil {
		return nil, errors.WithMessagef(err, "afalg: accept %s", name)
	}
	return op, nil
}

// Crypt implements cryptodev.Facility
func (f *Facility) Crypt(req *cryptodev.CryptRequest) error {
	s, ok := f.sessions[req.Session]
	if !ok {
		return errors.Errorf("afalg: unknown session: %d", req.Session)
	}
	if len(req.MAC) < s.size {
		return errors.Errorf("afalg: digest buffer too small: %d", len(req.MAC))
	}

	src := req.Src
	for len(src) > chunkSize {
		if err := s.op.Send(src[:chunkSize], unix.MSG_MORE); err != nil {
			return errors.WithMessagef(err, "afalg: send")
		}
		src = src[chunkSize:]
	}
	if len(src) > 0 {
		if err := s.op.Send(src, 0); err != nil {
			return errors.WithMessagef(err, "afalg: send")
		}
	}

	n, err := s.op.Read(req.MAC[:s.size])
	if err != nil {
		return errors.WithMessagef(err, "afalg: read digest")
	}
	if n != s.size {
		return errors.Errorf("afalg: unexpected digest size: %d", n)
	}
	return nil
}

// FreeSession implements cryptodev.Facility
func (f *Facility) FreeSession(id uint32) error {
	s, ok := f.sessions[id]
	if !ok {
		return errors.Errorf("afalg: unknown session: %d", id)
	}
	delete(f.sessions, id)
	return closeAll(s.op, s.tfm)
}

// Close implements cryptodev.Facility
func (f *Facility) Close() error {
	if f.closed {
		return errors.New("afalg: facility is closed")
	}
	f.closed = true

	var err error
	for id, s := range f.sessions {
		logger.KV(xlog.WARNING, "reason", "leaked_session", "session", id)
		if cerr := closeAll(s.op, s.tfm); cerr != nil {
			err = cerr
		}
	}
	f.sessions = make(map[uint32]*session)
	return err
}

func closeAll(sockets ...socket) error {
	var err error
	for _, s := range sockets {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = errors.WithMessagef(cerr, "afalg: close")
		}
	}
	return err
}

// dial opens an AF_ALG socket
func dial() (socket, error) {
	fd, err := unix.Socket(unix.AF_ALG, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.WithMessagef(err, "afalg: socket")
	}
	return &sysSocket{fd: fd}, nil
}

// A sysSocket is a socket which uses system calls for socket operations.
type sysSocket struct {
	fd int
}

func (s *sysSocket) Accept() (socket, error) {
	fd, _, errno := unix.Syscall(unix.SYS_ACCEPT, uintptr(s.fd), 0, 0)
	if errno != 0 {
		return nil, syscall.Errno(errno)
	}
	return &sysSocket{fd: int(fd)}, nil
}

func (s *sysSocket) Bind(sa unix.Sockaddr) error { return unix.Bind(s.fd, sa) }
func (s *sysSocket) Close() error                { return unix.Close(s.fd) }
func (s *sysSocket) Read(p []byte) (int, error)  { return unix.Read(s.fd, p) }

func (s *sysSocket) SetKey(key []byte) error {
	return unix.SetsockoptString(s.fd, unix.SOL_ALG, unix.ALG_SET_KEY, string(key))
}

func (s *sysSocket) Send(p []byte, flags int) error {
	return unix.Sendto(s.fd, p, flags, nil)
}
