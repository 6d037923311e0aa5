package fileoperations

import (
	"os"
	"path/filepath"
)

// Config holds configuration of the file operator Helper.
type Config struct {
	WalletPath   string `yaml:"wallet_path"`   // wallet path to the AES sealed gob wallet file
	WalletPasswd string `yaml:"wallet_passwd"` // wallet password to the wallet file in hex format
	DataDir      string `yaml:"data_dir"`      // directory holding the transaction queue file
}

// Helper holds all file operation methods.
type Helper struct {
	s   Sealer
	cfg Config
}

// New creates new Helper.
func New(cfg Config, s Sealer) Helper {
	return Helper{
		cfg: cfg,
		s:   s,
	}
}

// WriteAtomic writes data to a temporary file in the destination directory and renames it
// over the destination, so readers see either the old or the new content.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	cleanup := func() { os.Remove(name) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(name, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(name, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
