package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pattonkan/sui-go/sui"
)

// Deployment holds the ids written when the launchpad Move package is published.
type Deployment struct {
	LaunchpadPackageId *sui.PackageId `json:"launchpad_package_id"`
	UpgradeCapId       *sui.ObjectId  `json:"upgrade_cap_id,omitempty"`
	PublisherAddr      *sui.Address   `json:"publisher_addr,omitempty"`
	Network            string         `json:"network,omitempty"`
}

// ReadDeployment reads deployment JSON at path.
// Returns os.ErrNotExist if the file doesn't exist and a zero Deployment if it is empty.
func ReadDeployment(path string) (Deployment, error) {
	var d Deployment

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return d, err
		}
		return d, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(&d); err != nil && !errors.Is(err, io.EOF) {
		return d, fmt.Errorf("decode %s: %w", path, err)
	}
	return d, nil
}

// WriteDeployment writes d as indented JSON to path through a temp file and
// rename, keeping the mode of an existing file.
func WriteDeployment(path string, d Deployment) error {
	mode := fs.FileMode(0o644)
	if st, err := os.Stat(path); err == nil {
		mode = st.Mode()
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat: %w", err)
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
