package cli

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/print"
	"github.com/effective-security/xcryptodev/config"
	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/effective-security/xlog"

	// register facilities
	_ "github.com/effective-security/xcryptodev/cryptodev/afalg"
	_ "github.com/effective-security/xcryptodev/cryptodev/p11dev"
	_ "github.com/effective-security/xcryptodev/cryptodev/softdev"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcryptodev", "cli")

// Cli provides CLI context to run commands
type Cli struct {
	Cfg      string `help:"Location of run config file" type:"path"`
	Device   string `help:"Crypto device: /dev/crypto, afalg:, soft:[alignmask=N] or pkcs11:<token config file>"`
	JSON     bool   `help:"Print output in JSON format"`
	Debug    bool   `short:"D" help:"Enable debug mode"`
	LogLevel string `short:"l" help:"Set the logging level (debug|info|warn|error)" default:"error"`

	// Stdin is the source to read from, typically set to os.Stdin
	stdin io.Reader
	// Output is the destination for all output from the command, typically set to os.Stdout
	output io.Writer
	// ErrOutput is the destinaton for errors.
	// If not set, errors will be written to os.StdError
	errOutput io.Writer

	now func() time.Time
}

// Reader is the source to read from, typically set to os.Stdin
func (c *Cli) Reader() io.Reader {
	if c.stdin != nil {
		return c.stdin
	}
	return os.Stdin
}

// WithReader allows to specify a custom reader
func (c *Cli) WithReader(reader io.Reader) *Cli {
	c.stdin = reader
	return c
}

// Writer returns a writer for control output
func (c *Cli) Writer() io.Writer {
	if c.output != nil {
		return c.output
	}
	return os.Stdout
}

// WithWriter allows to specify a custom writer
func (c *Cli) WithWriter(out io.Writer) *Cli {
	c.output = out
	return c
}

// ErrWriter returns a writer for control output
func (c *Cli) ErrWriter() io.Writer {
	if c.errOutput != nil {
		return c.errOutput
	}
	return os.Stderr
}

// WithErrWriter allows to specify a custom error writer
func (c *Cli) WithErrWriter(out io.Writer) *Cli {
	c.errOutput = out
	return c
}

// WithClock allows to specify a custom clock
func (c *Cli) WithClock(now func() time.Time) *Cli {
	c.now = now
	return c
}

// Now returns the current local time
func (c *Cli) Now() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// AfterApply hook sets the log level
func (c *Cli) AfterApply(app *kong.Kong, vars kong.Vars) error {
	if c.Debug {
		xlog.SetGlobalLogLevel(xlog.DEBUG)
	} else {
		val := strings.TrimLeft(c.LogLevel, "=")
		l, err := xlog.ParseLevel(strings.ToUpper(val))
		if err != nil {
			return errors.WithStack(err)
		}
		xlog.SetGlobalLogLevel(l)
	}

	return nil
}

// WriteJSON prints response to out
func (c *Cli) WriteJSON(value any) error {
	print.JSON(c.Writer(), value)
	return nil
}

// RunConfig returns the run configuration from --cfg, or the default one,
// with the device overridden by --device
func (c *Cli) RunConfig() (*config.RunConfig, error) {
	cfg := config.Default()
	if c.Cfg != "" {
		var err error
		cfg, err = config.LoadRunConfig(c.Cfg)
		if err != nil {
			return nil, err
		}
	}
	if c.Device != "" {
		cfg.Device = c.Device
	}
	return cfg, nil
}

// SessionFunc is called with an open session
type SessionFunc func(s *cryptodev.Session) error

// WithSession opens the device and a session for the algorithm, calls fn,
// and then closes the session and the device.
// Failure to close the session is logged only.
func (c *Cli) WithSession(device string, alg cryptodev.Algorithm, key []byte, fn SessionFunc) (err error) {
	dev, err := cryptodev.Open(device)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := dev.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	s, err := dev.OpenSession(alg, key)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			logger.KV(xlog.WARNING, "reason", "close_session", "err", cerr)
		}
	}()

	return fn(s)
}

// configure applies command flags to the run configuration
func (c *Cli) configure(alg, key string) (*config.RunConfig, error) {
	cfg, err := c.RunConfig()
	if err != nil {
		return nil, err
	}
	if alg != "" {
		cfg.Algorithm = alg
	}
	if key != "" {
		cfg.SetKey(key)
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
