package loader

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// Canonical encoding so identical modules produce identical images.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("loader: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalModule serializes a Module to CBOR bytes.
func MarshalModule(m *Module) ([]byte, error) {
	if m.Format == 0 {
		m.Format = FormatVersion
	}
	return cborEncMode.Marshal(m)
}

// UnmarshalModule deserializes a Module from CBOR bytes.
func UnmarshalModule(data []byte) (*Module, error) {
	var m Module
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("loader: unmarshal module: %w", err)
	}
	if m.Format != FormatVersion {
		return nil, fmt.Errorf("loader: unsupported module format %d", m.Format)
	}
	return &m, nil
}

// ReadModule reads a module image file.
func ReadModule(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: read %s: %w", path, err)
	}
	m, err := UnmarshalModule(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// WriteModule writes m to path.
func WriteModule(path string, m *Module) error {
	data, err := MarshalModule(m)
	if err != nil {
		return fmt.Errorf("loader: marshal %s: %w", m.Name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("loader: write %s: %w", path, err)
	}
	return nil
}
