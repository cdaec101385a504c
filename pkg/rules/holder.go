package rules

import (
	"context"
	"sync/atomic"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/matching"
	"github.com/Ramsey-B/sage/pkg/mdmerror"
	"github.com/Ramsey-B/sage/pkg/metrics"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// Holder publishes the active rule set. A reload compiles the new document
// completely before swapping the pointer, so no evaluation ever observes a
// partially applied rule set.
type Holder struct {
	current  atomic.Pointer[RuleSet]
	registry *matching.Registry
	logger   ectologger.Logger
}

// NewHolder creates an empty holder. Current returns nil until a rule set is stored.
func NewHolder(registry *matching.Registry, logger ectologger.Logger) *Holder {
	return &Holder{
		registry: registry,
		logger:   logger,
	}
}

// Current returns the active rule set, or a configuration error when none is loaded
func (h *Holder) Current() (*RuleSet, error) {
	rs := h.current.Load()
	if rs == nil {
		return nil, mdmerror.Configuration("no rule set loaded")
	}
	return rs, nil
}

// Store swaps in an already compiled rule set
func (h *Holder) Store(rs *RuleSet) {
	h.current.Store(rs)
}

// Registry returns the matcher registry rule sets are compiled against
func (h *Holder) Registry() *matching.Registry {
	return h.registry
}

// LoadFile reads, compiles and activates a rule set file. On error the
// previous rule set stays active.
func (h *Holder) LoadFile(ctx context.Context, path string) (*RuleSet, error) {
	ctx, span := tracing.StartSpan(ctx, "rules.Holder.LoadFile")
	defer span.End()

	doc, err := ReadDocument(path)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).WithField("path", path).Error("Failed to read rule set")
		return nil, err
	}
	return h.activate(ctx, doc)
}

// LoadBytes parses, compiles and activates a rule set document
func (h *Holder) LoadBytes(ctx context.Context, data []byte) (*RuleSet, error) {
	ctx, span := tracing.StartSpan(ctx, "rules.Holder.LoadBytes")
	defer span.End()

	doc, err := ParseDocument(data)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to parse rule set")
		return nil, err
	}
	return h.activate(ctx, doc)
}

func (h *Holder) activate(ctx context.Context, doc *Document) (*RuleSet, error) {
	log := h.logger.WithContext(ctx).WithFields(map[string]any{
		"version": doc.Version,
		"rules":   len(doc.Rules),
	})

	rs, err := Compile(doc, h.registry)
	if err != nil {
		log.WithError(err).Error("Rule set rejected; keeping previous rule set")
		metrics.RecordRuleSetReload("rejected")
		return nil, err
	}

	for _, warning := range rs.Warnings {
		log.Warn(warning)
	}

	previous := h.current.Swap(rs)
	metrics.RecordRuleSetReload("loaded")
	if previous != nil {
		log.WithField("previous_version", previous.Version).Info("Rule set reloaded")
	} else {
		log.Info("Rule set loaded")
	}
	return rs, nil
}
