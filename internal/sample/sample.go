// Package sample provides the bundled equipment snapshot used when the
// backend cannot be reached on first load.
package sample

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/tphummel/smartmine/internal/models"
)

// FileName is the well-known asset name of the snapshot.
const FileName = "sample-data.json"

// ErrSampleUnavailable is returned when the snapshot cannot be read or parsed.
var ErrSampleUnavailable = errors.New("sample data unavailable")

//go:embed sample-data.json
var bundled []byte

// snapshot is the on-disk shape of sample-data.json.
type snapshot struct {
	Equipment []models.Equipment `json:"equipment"`
}

// Provider loads the snapshot from a filesystem. The zero value is not
// usable; construct with New or FromFS.
type Provider struct {
	fsys fs.FS
}

// New returns a Provider backed by the snapshot compiled into the binary.
func New() *Provider {
	return &Provider{}
}

// FromFS returns a Provider reading FileName from fsys, e.g. os.DirFS(dir).
func FromFS(fsys fs.FS) *Provider {
	return &Provider{fsys: fsys}
}

// Raw returns the snapshot bytes as stored.
func (p *Provider) Raw() ([]byte, error) {
	if p.fsys == nil {
		out := make([]byte, len(bundled))
		copy(out, bundled)
		return out, nil
	}
	data, err := fs.ReadFile(p.fsys, FileName)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrSampleUnavailable, FileName, err)
	}
	return data, nil
}

// Load returns the equipment list from the snapshot. Every call decodes a
// fresh copy, so callers may mutate the result.
func (p *Provider) Load(ctx context.Context) ([]models.Equipment, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSampleUnavailable, err)
	}
	data, err := p.Raw()
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrSampleUnavailable, FileName, err)
	}
	if snap.Equipment == nil {
		return nil, fmt.Errorf("%w: %s has no equipment key", ErrSampleUnavailable, FileName)
	}
	return snap.Equipment, nil
}
