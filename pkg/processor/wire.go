package processor

import (
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/candidates"
	"github.com/Ramsey-B/sage/pkg/golden"
	"github.com/Ramsey-B/sage/pkg/linking"
	"github.com/Ramsey-B/sage/pkg/rules"
	"github.com/Ramsey-B/sage/pkg/store"
)

// Components is the linking core composed over one set of stores
type Components struct {
	Holder    *rules.Holder
	Finder    *candidates.Finder
	Linker    *linking.Service
	Resolver  *golden.Resolver
	Processor *Processor
}

// Wire composes the finder, link service, resolver and processor
func Wire(stores store.Stores, holder *rules.Holder, logger ectologger.Logger, observers ...linking.Observer) *Components {
	engine := rules.NewEngine()
	finder := candidates.NewDefaultFinder(stores, holder, engine, logger)
	linker := linking.NewService(stores, logger, observers...)
	scorer := candidates.NewScoreStrategy(stores.Goldens, engine, logger)
	resolver := golden.NewResolver(stores.Goldens, linker, scorer, golden.NewSurvivorship(golden.DefaultCollectFields), logger)

	return &Components{
		Holder:    holder,
		Finder:    finder,
		Linker:    linker,
		Resolver:  resolver,
		Processor: NewProcessor(stores, holder, finder, resolver, logger),
	}
}
