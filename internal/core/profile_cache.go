package core

import (
	"time"

	"github.com/patrickmn/go-cache"

	"dragonfarm/pkg/domain"
)

// profileCache keeps joined dragon profiles. Dragons and genotypes never
// change after hatching, so entries never need invalidation.
type profileCache struct {
	c *cache.Cache
}

func newProfileCache(ttl time.Duration) *profileCache {
	if ttl <= 0 {
		return &profileCache{c: cache.New(cache.NoExpiration, 0)}
	}
	return &profileCache{c: cache.New(ttl, 2*ttl)}
}

func (p *profileCache) get(id string) (domain.DragonProfile, bool) {
	v, ok := p.c.Get(id)
	if !ok {
		return domain.DragonProfile{}, false
	}
	return cloneProfile(v.(domain.DragonProfile)), true
}

func (p *profileCache) put(profile domain.DragonProfile) {
	p.c.SetDefault(profile.Dragon.ID, cloneProfile(profile))
}

// cloneProfile detaches every map and slice so callers cannot mutate cached entries.
func cloneProfile(profile domain.DragonProfile) domain.DragonProfile {
	profile.Genotype = profile.Genotype.Clone()
	phenotype := make(domain.Phenotype, len(profile.Phenotype))
	for id, expr := range profile.Phenotype {
		phenotype[id] = expr
	}
	profile.Phenotype = phenotype
	profile.Dragon.ParentIDs = append([]string(nil), profile.Dragon.ParentIDs...)
	return profile
}
