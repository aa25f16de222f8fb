package core

import (
	"dragonfarm/internal/genetics"
	"dragonfarm/pkg/domain"
)

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine(registry *genetics.Registry) *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(GenotypeCoverageRule(registry))
	engine.Register(LineageIntegrityRule())
	engine.Register(RequestLifecycleRule())
	return engine
}
