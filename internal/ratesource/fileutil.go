package ratesource

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/bher20/erateestimator/internal/tariff"
)

func writeFileAtomically(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Export writes versions to path as a rate document that File can load back.
func Export(path string, versions []tariff.RateVersion) error {
	var buf bytes.Buffer
	if err := Encode(&buf, versions); err != nil {
		return err
	}
	return writeFileAtomically(path, &buf)
}
