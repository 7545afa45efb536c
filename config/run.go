package config

import (
	"encoding/hex"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/go-playground/validator/v10"
)

// DefaultText is the input of the default run
const DefaultText = "The quick brown fox jumps over the lazy dog" +
	"The quick brown fox jumps over the lazy dog" +
	"The quick brown fox jumps over the lazy dog"

// DefaultIterations is the number of iterations of the default run
const DefaultIterations = 1000 * 1000

// RunConfig configures a hashing run
type RunConfig struct {
	// Device is the path of the crypto facility
	Device string `json:"device" yaml:"device" validate:"required"`
	// Algorithm name, see cryptodev.ParseAlgorithm.
	// If empty, the algorithm is selected by presence of the key.
	Algorithm string `json:"algorithm,omitempty" yaml:"algorithm,omitempty" validate:"omitempty,algorithm"`
	// Key is hex encoded MAC key
	Key string `json:"key,omitempty" yaml:"key,omitempty" validate:"omitempty,hexadecimal"`
	// KeyFile is the location of a raw MAC key
	KeyFile    string `json:"key_file,omitempty" yaml:"key_file,omitempty" validate:"excluded_with=Key"`
	Input      string `json:"input" yaml:"input"`
	Iterations int    `json:"iterations" yaml:"iterations" validate:"gte=0"`

	key []byte
}

// Default returns the configuration of the default run
func Default() *RunConfig {
	return &RunConfig{
		Device:     cryptodev.DefaultPath,
		Input:      DefaultText,
		Iterations: DefaultIterations,
	}
}

// LoadRunConfig loads the run configuration, missing values are set to defaults
func LoadRunConfig(filename string) (*RunConfig, error) {
	cfg := Default()
	if err := decodeFile(filename, cfg); err != nil {
		return nil, err
	}

	if cfg.KeyFile != "" {
		key, err := readFileRef(cfg.KeyFile, filename)
		if err != nil {
			return nil, errors.WithMessagef(err, "unable to load key for configuration: %s", filename)
		}
		cfg.key = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid configuration: %s", filename)
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("algorithm", func(fl validator.FieldLevel) bool {
		_, err := cryptodev.ParseAlgorithm(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate returns error if the configuration is not valid
func (c *RunConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.WithStack(err)
	}

	key, err := c.KeyBytes()
	if err != nil {
		return err
	}
	alg, err := c.HashAlgorithm()
	if err != nil {
		return err
	}
	if alg.Keyed() != (len(key) > 0) {
		return errors.Errorf("algorithm %s: key is %s", alg, values.Select(alg.Keyed(), "required", "not allowed"))
	}
	return nil
}

// KeyBytes returns the MAC key, or nil if no key is configured
func (c *RunConfig) KeyBytes() ([]byte, error) {
	if c.key != nil {
		return c.key, nil
	}
	if c.Key == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(c.Key, "0x"), "0X"))
	if err != nil {
		return nil, errors.WithMessage(err, "invalid key")
	}
	return key, nil
}

// HashAlgorithm returns the configured algorithm,
// or the one selected by presence of the key.
func (c *RunConfig) HashAlgorithm() (cryptodev.Algorithm, error) {
	if c.Algorithm != "" {
		return cryptodev.ParseAlgorithm(c.Algorithm)
	}
	key, err := c.KeyBytes()
	if err != nil {
		return 0, err
	}
	return cryptodev.AlgorithmFor(key), nil
}

// SetKey replaces the configured key with the hex encoded key
func (c *RunConfig) SetKey(key string) {
	c.Key = key
	c.KeyFile = ""
	c.key = nil
}
