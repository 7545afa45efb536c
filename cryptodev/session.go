package cryptodev

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/metricskey"
	"github.com/effective-security/xlog"
)

// Session is a hashing session bound to one Device and one Algorithm
type Session struct {
	dev    *Device
	alg    Algorithm
	info   SessionInfo
	closed bool
}

// ID returns the facility session identifier
func (s *Session) ID() uint32 {
	return s.info.ID
}

// Algorithm returns the session algorithm
func (s *Session) Algorithm() Algorithm {
	return s.alg
}

// DigestSize returns the size of digests produced by the session
func (s *Session) DigestSize() int {
	return s.alg.DigestSize()
}

// Alignmask returns the buffer alignment mask of the session
func (s *Session) Alignmask() uint16 {
	return s.info.Alignmask
}

// Info returns the facility session info
func (s *Session) Info() SessionInfo {
	return s.info
}

// Closed returns true after Close
func (s *Session) Closed() bool {
	return s.closed
}

// Hash computes the digest of in, and writes it to out.
// Exactly DigestSize bytes of out are written.
//
// When the session has a nonzero alignment mask, both in and out must
// start at an aligned address, see AlignedBuffer. Unaligned buffers are
// rejected with ErrAlignmentViolation before reaching the facility.
func (s *Session) Hash(in, out []byte) error {
	if s == nil || s.dev == nil {
		return errors.Mark(errors.WithMessage(ErrSessionClosed, "session is not open"), ErrOperationFailed)
	}
	if s.closed {
		return errors.Mark(ErrSessionClosed, ErrOperationFailed)
	}

	size := s.alg.DigestSize()
	if len(out) < size {
		return errors.Mark(errors.WithMessagef(ErrShortBuffer, "need %d bytes, got %d", size, len(out)), ErrOperationFailed)
	}
	out = out[:size]

	if mask := s.info.Alignmask; mask != 0 {
		if !IsAligned(in, mask) {
			return errors.WithMessagef(ErrAlignmentViolation, "input, alignmask=0x%x", mask)
		}
		if !IsAligned(out, mask) {
			return errors.WithMessagef(ErrAlignmentViolation, "digest, alignmask=0x%x", mask)
		}
	}

	err := s.dev.f.Crypt(&CryptRequest{
		Session: s.info.ID,
		Src:     in,
		MAC:     out,
	})
	if err != nil {
		return errors.Mark(errors.WithMessagef(err, "hash on session %d", s.info.ID), ErrOperationFailed)
	}
	return nil
}

// Sum returns the digest of in, in a newly allocated aligned buffer
func (s *Session) Sum(in []byte) ([]byte, error) {
	if s == nil || s.dev == nil {
		return nil, s.Hash(in, nil)
	}
	out := AlignedBuffer(s.DigestSize(), s.info.Alignmask)
	if err := s.Hash(in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the session. It is safe to call Close multiple times.
//
// The session is closed even when the facility fails to release it;
// such failure is logged and returned marked with ErrSessionCloseFailed,
// callers are not expected to act on it.
func (s *Session) Close() error {
	if s == nil || s.dev == nil || s.closed {
		return nil
	}
	s.closed = true
	s.dev.release(s)

	defer metricskey.PerfSessionOperation.MeasureSince(time.Now(), s.alg.String(), "close")

	if err := s.dev.f.FreeSession(s.info.ID); err != nil {
		logger.KV(xlog.ERROR,
			"reason", "free_session",
			"session", s.info.ID,
			"err", err.Error())
		return errors.Mark(errors.WithMessagef(err, "free session %d", s.info.ID), ErrSessionCloseFailed)
	}
	logger.KV(xlog.DEBUG, "status", "session_closed", "session", s.info.ID)
	return nil
}
