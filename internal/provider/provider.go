// Package provider supplies the desired schema. Applications declare models
// in code through the registry; a static provider wraps an existing snapshot
// and a file provider loads one from YAML.
package provider

import (
	"context"

	"schemasync/internal/schema"
)

// Provider yields the schema the database should converge to.
type Provider interface {
	DesiredSchema(ctx context.Context) (schema.Snapshot, error)
}

// Static wraps a ready-made snapshot.
type Static struct {
	snap schema.Snapshot
}

func NewStatic(snap schema.Snapshot) *Static {
	return &Static{snap: snap}
}

func (s *Static) DesiredSchema(context.Context) (schema.Snapshot, error) {
	return s.snap, nil
}
