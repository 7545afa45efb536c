package cli

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/effective-security/xcryptodev/hashchain"
	"github.com/effective-security/xlog"
)

// HashCmd prints the digest of the input
type HashCmd struct {
	Alg  string `help:"algorithm name, as listed by algos command"`
	Key  string `help:"hex encoded MAC key"`
	Text string `help:"text to hash"`
	File string `kong:"arg" optional:"" help:"file to hash, stdin if not specified or '-'"`
}

// DigestResult is the output of the hash command
type DigestResult struct {
	Algorithm string `json:"algorithm"`
	Digest    string `json:"digest"`
}

// Run the command
func (a *HashCmd) Run(ctx *Cli) error {
	cfg, err := ctx.configure(a.Alg, a.Key)
	if err != nil {
		return err
	}
	alg, _ := cfg.HashAlgorithm()
	key, _ := cfg.KeyBytes()

	input, err := a.input(ctx)
	if err != nil {
		return err
	}

	var digest []byte
	err = ctx.WithSession(cfg.Device, alg, key, func(s *cryptodev.Session) error {
		in := cryptodev.AlignedBuffer(len(input), s.Alignmask())
		copy(in, input)
		digest, err = s.Sum(in)
		return err
	})
	if err != nil {
		return err
	}

	if ctx.JSON {
		return ctx.WriteJSON(&DigestResult{
			Algorithm: alg.String(),
			Digest:    hex.EncodeToString(digest),
		})
	}
	fmt.Fprintln(ctx.Writer(), hex.EncodeToString(digest))
	return nil
}

func (a *HashCmd) input(ctx *Cli) ([]byte, error) {
	if a.Text != "" {
		if a.File != "" {
			return nil, errors.New("--text and file can not be used together")
		}
		return []byte(a.Text), nil
	}
	if a.File != "" && a.File != "-" {
		b, err := os.ReadFile(a.File)
		if err != nil {
			return nil, errors.WithMessagef(err, "unable to read file")
		}
		return b, nil
	}
	b, err := io.ReadAll(ctx.Reader())
	if err != nil {
		return nil, errors.WithMessagef(err, "unable to read stdin")
	}
	return b, nil
}

// ChainCmd runs the iterated hash over the configured input
type ChainCmd struct {
	Alg        string `help:"algorithm name, as listed by algos command"`
	Key        string `help:"hex encoded MAC key"`
	Text       string `help:"input text, the configured input if not specified"`
	Iterations int    `help:"number of iterations, the configured number if negative" default:"-1"`
	Progress   int    `help:"print progress every N iterations"`
	Final      bool   `help:"print the final digest"`
}

// ChainResult is the output of the chain command
type ChainResult struct {
	Device     string `json:"device"`
	Algorithm  string `json:"algorithm"`
	Iterations int    `json:"iterations"`
	Started    string `json:"started"`
	Finished   string `json:"finished"`
	Elapsed    string `json:"elapsed"`
	Digest     string `json:"digest"`
	Final      string `json:"final,omitempty"`
}

// Run the command
func (a *ChainCmd) Run(ctx *Cli) error {
	cfg, err := ctx.configure(a.Alg, a.Key)
	if err != nil {
		return err
	}
	if a.Text != "" {
		cfg.Input = a.Text
	}
	if a.Iterations >= 0 {
		cfg.Iterations = a.Iterations
	}
	alg, _ := cfg.HashAlgorithm()
	key, _ := cfg.KeyBytes()

	out := ctx.Writer()
	opts := []hashchain.Option{hashchain.WithClock(ctx.Now)}
	if a.Progress > 0 {
		opts = append(opts, hashchain.WithProgress(a.Progress, func(done int) {
			fmt.Fprintf(ctx.ErrWriter(), "iterations: %d\n", done)
		}))
	}

	var res *hashchain.Result
	err = ctx.WithSession(cfg.Device, alg, key, func(s *cryptodev.Session) error {
		if !ctx.JSON {
			fmt.Fprintf(out, "Current local time and date: %s\n", ctx.Now().Format(time.ANSIC))
		}
		res, err = hashchain.Run(s, []byte(cfg.Input), cfg.Iterations, opts...)
		return err
	})
	if err != nil {
		return err
	}

	logger.KV(xlog.INFO,
		"device", cfg.Device,
		"alg", alg.String(),
		"iterations", res.Iterations,
		"elapsed", res.Elapsed().String())

	if ctx.JSON {
		r := &ChainResult{
			Device:     cfg.Device,
			Algorithm:  alg.String(),
			Iterations: res.Iterations,
			Started:    res.Started.Format(time.RFC3339Nano),
			Finished:   res.Finished.Format(time.RFC3339Nano),
			Elapsed:    res.Elapsed().String(),
			Digest:     hex.EncodeToString(res.Digest),
		}
		if a.Final {
			r.Final = hex.EncodeToString(res.Final)
		}
		return ctx.WriteJSON(r)
	}

	fmt.Fprintf(out, "exit program: local time and date: %s\n", res.Finished.Format(time.ANSIC))
	fmt.Fprintf(out, "digest: %s\n", colonHex(res.Digest))
	if a.Final {
		fmt.Fprintf(out, "final: %s\n", colonHex(res.Final))
	}
	return nil
}

// colonHex prints every byte followed by a colon
func colonHex(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		fmt.Fprintf(&sb, "%02x:", c)
	}
	return sb.String()
}

// KatCmd runs the known-answer tests against the device
type KatCmd struct {
	Alg string `help:"run only the tests of the algorithm"`
}

// KnownAnswerResult is the result of a single test
type KnownAnswerResult struct {
	Algorithm string `json:"algorithm"`
	Input     string `json:"input"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Known answer test status
const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

// Run the command
func (a *KatCmd) Run(ctx *Cli) (err error) {
	vectors := hashchain.KnownAnswers
	if a.Alg != "" {
		alg, err := cryptodev.ParseAlgorithm(a.Alg)
		if err != nil {
			return err
		}
		vectors = hashchain.VectorsFor(alg)
		if len(vectors) == 0 {
			return errors.Errorf("no known answer tests for %s", alg)
		}
	}

	cfg, err := ctx.RunConfig()
	if err != nil {
		return err
	}
	dev, err := cryptodev.Open(cfg.Device)
	if err != nil {
		return err
	}
	defer closeDevice(dev, &err)

	var results []KnownAnswerResult
	failed := 0
	for _, v := range vectors {
		r := KnownAnswerResult{
			Algorithm: v.Algorithm.String(),
			Input:     string(v.Input),
			Status:    StatusPass,
		}
		if err := verify(dev, v); err != nil {
			r.Error = err.Error()
			if errors.Is(err, cryptodev.ErrSessionCreationFailed) {
				r.Status = StatusSkip
			} else {
				r.Status = StatusFail
				failed++
			}
		}
		results = append(results, r)
	}

	if ctx.JSON {
		if err = ctx.WriteJSON(results); err != nil {
			return err
		}
	} else {
		out := ctx.Writer()
		for _, r := range results {
			fmt.Fprintf(out, "%s: %s %q", r.Status, r.Algorithm, r.Input)
			if r.Error != "" {
				fmt.Fprintf(out, ": %s", r.Error)
			}
			fmt.Fprintln(out)
		}
	}

	if failed > 0 {
		return errors.Errorf("%d known answer test(s) failed", failed)
	}
	return nil
}

func verify(dev *cryptodev.Device, v hashchain.Vector) error {
	s, err := dev.OpenSession(v.Algorithm, v.Key)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.KV(xlog.WARNING, "reason", "close_session", "err", err)
		}
	}()
	return hashchain.Verify(s, v)
}
