package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"gopkg.in/yaml.v3"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcryptodev", "config")

// TokenConfig holds PKCS#11 configuration information.
//
// A token may be identified either by serial number or label.  If
// both are specified then the first match wins.
type TokenConfig interface {
	// Manufacturer name of the manufacturer
	Manufacturer() string

	// Model name of the device
	Model() string

	// Full path to PKCS#11 library
	Path() string

	// Token serial number
	TokenSerial() string

	// Token label
	TokenLabel() string

	// Pin is a secret to access the token.
	// If it's prefixed with `file:`, then it will be loaded from the file.
	Pin() string
}

type tokenConfig struct {
	Man    string `json:"Manufacturer" yaml:"manufacturer"`
	Mod    string `json:"Model"        yaml:"model"`
	Dir    string `json:"Path"         yaml:"path"`
	Serial string `json:"TokenSerial"  yaml:"token_serial"`
	Label  string `json:"TokenLabel"   yaml:"token_label"`
	Pwd    string `json:"Pin"          yaml:"pin"`
}

// Manufacturer name of the manufacturer
func (c *tokenConfig) Manufacturer() string {
	return c.Man
}

// Model name of the device
func (c *tokenConfig) Model() string {
	return c.Mod
}

// Full path to PKCS#11 library
func (c *tokenConfig) Path() string {
	return c.Dir
}

// Token serial number
func (c *tokenConfig) TokenSerial() string {
	return c.Serial
}

// Token label
func (c *tokenConfig) TokenLabel() string {
	return c.Label
}

// Pin is a secret to access the token.
func (c *tokenConfig) Pin() string {
	return c.Pwd
}

// LoadTokenConfig loads PKCS#11 token configuration
func LoadTokenConfig(filename string) (TokenConfig, error) {
	tc := new(tokenConfig)
	if err := decodeFile(filename, tc); err != nil {
		return nil, err
	}

	if tc.Dir == "" {
		return nil, errors.Errorf("missing PKCS#11 library path: %s", filename)
	}

	pin := tc.Pin()
	if strings.HasPrefix(pin, "file:") {
		pb, err := readFileRef(strings.TrimPrefix(pin, "file:"), filename)
		if err != nil {
			return nil, errors.WithMessagef(err, "unable to load PIN for configuration: %s", filename)
		}
		tc.Pwd = strings.TrimSpace(string(pb))
	}

	return tc, nil
}

func decodeFile(filename string, v any) error {
	cfr, err := os.Open(filename)
	if err != nil {
		return errors.WithStack(err)
	}
	defer cfr.Close()

	if strings.HasSuffix(filename, ".json") {
		err = json.NewDecoder(cfr).Decode(v)
	} else {
		err = yaml.NewDecoder(cfr).Decode(v)
	}
	if err != nil {
		return errors.WithMessagef(err, "failed to decode file: %s", filename)
	}
	return nil
}

// readFileRef reads the file referenced from the config file,
// trying the path as is, relative to cwd, and relative to the config folder.
func readFileRef(ref, configFile string) ([]byte, error) {
	cwd, _ := os.Getwd()
	folders := []string{
		"",
		cwd,
		filepath.Dir(configFile),
	}

	for _, folder := range folders {
		if resolved, err := resolve(ref, folder); err == nil {
			ref = resolved
			break
		}
		logger.KV(xlog.DEBUG, "reason", "resolve", "file", ref, "basedir", folder)
	}

	b, err := os.ReadFile(ref)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return b, nil
}

// resolve returns absolute file name relative to baseDir,
// or NotFound error.
func resolve(file string, baseDir string) (resolved string, err error) {
	if file == "" {
		return file, nil
	}
	if filepath.IsAbs(file) {
		resolved = file
	} else if baseDir != "" {
		resolved = filepath.Join(baseDir, file)
	}
	if _, err := os.Stat(resolved); os.IsNotExist(err) {
		return resolved, errors.WithMessagef(err, "not found: %v", resolved)
	}
	return resolved, nil
}
