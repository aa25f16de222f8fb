// Package catalog loads the trait catalog and starter dragons from YAML.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"dragonfarm/internal/core"
	"dragonfarm/internal/genetics"
	"dragonfarm/pkg/domain"
)

//go:embed seed.yaml
var embeddedSeed []byte

// Catalog is the initialization input for a farm.
type Catalog struct {
	Traits  []domain.Trait `yaml:"traits"`
	Dragons []Dragon       `yaml:"dragons"`
}

// Dragon is a starter dragon with an explicit genotype.
type Dragon struct {
	ID        string          `yaml:"id"`
	Name      string          `yaml:"name"`
	Sex       domain.Sex      `yaml:"sex"`
	HatchedAt time.Time       `yaml:"hatched_at"`
	Genotype  domain.Genotype `yaml:"genotype"`
}

// Default returns the embedded catalog.
func Default() (Catalog, error) {
	return Parse(embeddedSeed)
}

// Load reads path, or the embedded catalog when path is empty.
func Load(path string) (Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and checks a YAML catalog.
func Parse(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	if len(c.Traits) == 0 {
		return Catalog{}, fmt.Errorf("catalog defines no traits")
	}
	seen := make(map[string]struct{}, len(c.Dragons))
	for _, d := range c.Dragons {
		if d.ID == "" || d.Name == "" {
			return Catalog{}, fmt.Errorf("catalog dragon requires id and name")
		}
		if !d.Sex.Valid() {
			return Catalog{}, fmt.Errorf("catalog dragon %s: invalid sex %q", d.ID, d.Sex)
		}
		if _, dup := seen[d.ID]; dup {
			return Catalog{}, fmt.Errorf("catalog dragon %s listed twice", d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	return c, nil
}

// Registry builds the trait registry described by the catalog.
func (c Catalog) Registry() (*genetics.Registry, error) {
	return genetics.NewRegistry(c.Traits)
}

// Seed registers every catalog dragon not yet present and returns how many
// were created. Running it again is a no-op.
func Seed(ctx context.Context, svc *core.Service, c Catalog) (int, error) {
	created := 0
	for _, d := range c.Dragons {
		if _, ok := svc.Store().GetDragon(d.ID); ok {
			continue
		}
		_, _, err := svc.RegisterDragon(ctx, core.DragonIntake{
			ID:        d.ID,
			Name:      d.Name,
			Sex:       d.Sex,
			HatchedAt: d.HatchedAt.UTC(),
			Genotype:  d.Genotype,
		})
		if err != nil {
			return created, fmt.Errorf("seed dragon %s: %w", d.Name, err)
		}
		created++
	}
	return created, nil
}
