// Package seeds loads the reference data every ingestion depends on: the
// universal reform type codes and the list of tracker sources.
package seeds

import (
	"context"
	"embed"
	"fmt"

	"github.com/goccy/go-yaml"

	"github.com/EmpoweredVote/EV-Reforms/internal/logging"
	"github.com/EmpoweredVote/EV-Reforms/internal/reforms"
)

//go:embed data/*.yaml
var data embed.FS

// ReformTypes returns the embedded reform type list.
func ReformTypes() ([]reforms.ReformType, error) {
	var types []reforms.ReformType
	if err := load("data/reform_types.yaml", &types); err != nil {
		return nil, err
	}
	return types, nil
}

// Sources returns the embedded source list.
func Sources() ([]reforms.Source, error) {
	var sources []reforms.Source
	if err := load("data/sources.yaml", &sources); err != nil {
		return nil, err
	}
	return sources, nil
}

func load(name string, out any) error {
	raw, err := data.ReadFile(name)
	if err != nil {
		return fmt.Errorf("could not read %s: %w", name, err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

// SeedAll upserts reform types and sources in one transaction. Running it
// again updates names and descriptions in place.
func SeedAll(ctx context.Context, st reforms.Store) error {
	types, err := ReformTypes()
	if err != nil {
		return err
	}
	sources, err := Sources()
	if err != nil {
		return err
	}

	err = st.WithTx(ctx, func(tx reforms.Store) error {
		if err := tx.UpsertReformTypes(ctx, types); err != nil {
			return fmt.Errorf("seed reform types: %w", err)
		}
		if err := tx.UpsertSources(ctx, sources); err != nil {
			return fmt.Errorf("seed sources: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logging.FromContext(ctx).Info().
		Int("reform_types", len(types)).
		Int("sources", len(sources)).
		Msg("seeded reference data")
	return nil
}
