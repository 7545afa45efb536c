// Package config provides configuration of the hashing runs and of the
// PKCS#11 token facility. Files are decoded as JSON when the name has
// ".json" extension, and as YAML otherwise.
package config
