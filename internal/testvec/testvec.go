// Package testvec loads YAML known-answer vectors for the session
// cryptography tests.
package testvec

import (
	_ "embed"
	"encoding/hex"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

//go:embed testdata/session_keys.yaml
var sessionKeysYAML []byte

// SessionKeyVector is one key-derivation known-answer vector.
type SessionKeyVector struct {
	// Name describes the vector.
	Name string

	// SharedSecret is the ECDH shared secret Z.
	SharedSecret []byte

	// Transcript is the untagged session transcript encoding.
	Transcript []byte

	// SKDevice is the expected device→reader key.
	SKDevice []byte

	// SKReader is the expected reader→device key.
	SKReader []byte
}

// yamlVector is the on-disk form with hex-encoded byte fields.
type yamlVector struct {
	Name         string `yaml:"name"`
	SharedSecret string `yaml:"shared_secret"`
	Transcript   string `yaml:"transcript"`
	SKDevice     string `yaml:"sk_device"`
	SKReader     string `yaml:"sk_reader"`
}

type yamlFile struct {
	Vectors []yamlVector `yaml:"vectors"`
}

// SessionKeyVectors returns the embedded key-derivation vectors.
func SessionKeyVectors() ([]SessionKeyVector, error) {
	return parseSessionKeys(sessionKeysYAML)
}

// ReadSessionKeys parses key-derivation vectors from r.
func ReadSessionKeys(r io.Reader) ([]SessionKeyVector, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read vectors: %w", err)
	}
	return parseSessionKeys(data)
}

func parseSessionKeys(data []byte) ([]SessionKeyVector, error) {
	var file yamlFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse vectors: %w", err)
	}
	if len(file.Vectors) == 0 {
		return nil, fmt.Errorf("no vectors found")
	}

	out := make([]SessionKeyVector, 0, len(file.Vectors))
	for i, v := range file.Vectors {
		vec := SessionKeyVector{Name: v.Name}
		var err error
		if vec.SharedSecret, err = hex.DecodeString(v.SharedSecret); err != nil {
			return nil, fmt.Errorf("vector %d: bad shared_secret: %w", i, err)
		}
		if vec.Transcript, err = hex.DecodeString(v.Transcript); err != nil {
			return nil, fmt.Errorf("vector %d: bad transcript: %w", i, err)
		}
		if vec.SKDevice, err = hex.DecodeString(v.SKDevice); err != nil {
			return nil, fmt.Errorf("vector %d: bad sk_device: %w", i, err)
		}
		if vec.SKReader, err = hex.DecodeString(v.SKReader); err != nil {
			return nil, fmt.Errorf("vector %d: bad sk_reader: %w", i, err)
		}
		out = append(out, vec)
	}
	return out, nil
}
