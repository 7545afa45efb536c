// Package hashchain runs iterated hash constructions over a hashing
// session, and verifies sessions against published test vectors.
package hashchain

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/effective-security/xcryptodev/metricskey"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcryptodev", "hashchain")

// Hasher is a hashing session
type Hasher interface {
	Hash(in, out []byte) error
	Algorithm() cryptodev.Algorithm
	DigestSize() int
	Alignmask() uint16
}

// Result of a Run
type Result struct {
	// Digest is the digest of the input
	Digest []byte
	// Final is the digest of Digest
	Final      []byte
	Iterations int
	Started    time.Time
	Finished   time.Time
}

// Elapsed returns the duration of the run
func (r *Result) Elapsed() time.Duration {
	return r.Finished.Sub(r.Started)
}

// ProgressFunc is called with the number of completed iterations
type ProgressFunc func(done int)

type options struct {
	every    int
	progress ProgressFunc
	now      func() time.Time
}

// Option configures Run
type Option func(*options)

// WithProgress reports progress every n iterations
func WithProgress(n int, fn ProgressFunc) Option {
	return func(o *options) {
		o.every = n
		o.progress = fn
	}
}

// WithClock overrides the clock used for Started and Finished
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Run hashes input and then the resulting digest, iterations times.
//
// The input is copied to a buffer aligned for the session, the digests
// are kept in aligned buffers, so sessions with an alignment mask accept
// them.
func Run(h Hasher, input []byte, iterations int, opts ...Option) (*Result, error) {
	if iterations < 0 {
		return nil, errors.Errorf("invalid iterations: %d", iterations)
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	mask := h.Alignmask()
	size := h.DigestSize()

	text := cryptodev.AlignedBuffer(len(input), mask)
	copy(text, input)
	digest := cryptodev.AlignedBuffer(size, mask)
	final := cryptodev.AlignedBuffer(size, mask)

	res := &Result{
		Started: o.now(),
	}
	defer metricskey.PerfHashChain.MeasureSince(time.Now(), h.Algorithm().String())

	for i := 0; i < iterations; i++ {
		if err := h.Hash(text, digest); err != nil {
			return nil, errors.WithMessagef(err, "iteration %d", i)
		}
		if err := h.Hash(digest, final); err != nil {
			return nil, errors.WithMessagef(err, "iteration %d", i)
		}
		res.Iterations++
		if o.progress != nil && o.every > 0 && res.Iterations%o.every == 0 {
			o.progress(res.Iterations)
		}
	}
	res.Finished = o.now()

	if res.Iterations > 0 {
		res.Digest = digest
		res.Final = final
	}

	logger.KV(xlog.DEBUG,
		"alg", h.Algorithm().String(),
		"iterations", res.Iterations,
		"elapsed", res.Elapsed().String())

	return res, nil
}
