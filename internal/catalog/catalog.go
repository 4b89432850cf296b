// Package catalog resolves authoritative size and digest metadata for models
// published in the Ollama library.
package catalog

import (
	"context"

	"github.com/kalambet/ollamaup/internal/models"
)

// Resolver looks up remote metadata for a model id. A false result means the
// information is unavailable; it is never an error.
type Resolver interface {
	RemoteInfo(ctx context.Context, id string) (models.Info, bool)
}

// UnknownSize is reported when neither the catalog nor the bundled table
// knows a model.
const UnknownSize = "unknown"

// Lookup returns display metadata for id: the remote entry when available,
// then the bundled table, then an entry with an unknown size.
func Lookup(ctx context.Context, r Resolver, id string) models.Info {
	if r != nil {
		if info, ok := r.RemoteInfo(ctx, id); ok {
			return info
		}
	}
	if info, ok := models.BundledInfo(id); ok {
		return info
	}
	return models.Info{ID: models.Canonical(id), Size: UnknownSize}
}

// Static resolves only from the bundled table. It is useful offline and in tests.
type Static struct{}

func (Static) RemoteInfo(_ context.Context, id string) (models.Info, bool) {
	return models.BundledInfo(id)
}
