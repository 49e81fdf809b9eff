package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// document is the on-disk layout: a single [[bodies]] array of tables.
type document struct {
	Bodies []Body `toml:"bodies"`
}

// LoadFile reads a TOML catalog. A missing file yields an error matching
// fs.ErrNotExist.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}

	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}

	for i, b := range doc.Bodies {
		if b.Identifier == "" {
			return nil, fmt.Errorf("parsing catalog %s: body %d has no identifier", path, i)
		}
	}

	return &Catalog{
		Bodies:   doc.Bodies,
		LoadedAt: time.Now(),
		Source:   path,
	}, nil
}

// WriteFile persists bodies as TOML. The file is written to a temporary
// sibling and renamed so readers never observe a partial catalog.
func WriteFile(path string, bodies []Body) error {
	data, err := toml.Marshal(document{Bodies: bodies})
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating catalog dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".catalog-*.toml")
	if err != nil {
		return fmt.Errorf("creating temp catalog: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp catalog: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("setting catalog permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing catalog: %w", err)
	}

	return nil
}
