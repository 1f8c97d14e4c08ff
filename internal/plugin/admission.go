package plugin

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/tracedeck/tracedeck/internal/observability"
)

// OutcomeKind classifies what the pipeline decided for one descriptor.
type OutcomeKind uint8

const (
	OutcomeAdmitted OutcomeKind = iota
	OutcomeDisabled
	OutcomeGatekept
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAdmitted:
		return "admitted"
	case OutcomeDisabled:
		return "disabled"
	case OutcomeGatekept:
		return "gatekept"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the admission decision for one descriptor. Every descriptor
// maps to exactly one outcome.
type Outcome struct {
	Kind       OutcomeKind
	Descriptor Descriptor
	Plugin     *Loaded // set only when Kind == OutcomeAdmitted
	Reason     error   // set only when Kind == OutcomeFailed
}

// Partition groups outcomes by bucket.
type Partition struct {
	Admitted []*Loaded
	Disabled []Descriptor
	Gatekept []Descriptor
	Failed   []Outcome
}

// PartitionOutcomes splits a decision list into its four buckets.
func PartitionOutcomes(outcomes []Outcome) Partition {
	var p Partition
	for _, o := range outcomes {
		switch o.Kind {
		case OutcomeAdmitted:
			p.Admitted = append(p.Admitted, o.Plugin)
		case OutcomeDisabled:
			p.Disabled = append(p.Disabled, o.Descriptor)
		case OutcomeGatekept:
			p.Gatekept = append(p.Gatekept, o.Descriptor)
		case OutcomeFailed:
			p.Failed = append(p.Failed, o)
		}
	}
	return p
}

// Pipeline classifies discovered descriptors and materializes the admitted
// ones. For fixed (descriptors, disabled set, gatekeeper state) inputs the
// partition is deterministic: running it twice yields identical buckets.
type Pipeline struct {
	disabled *DisabledSet
	gate     Gatekeeper
	loader   Loader
	logger   *slog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the pipeline logger.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates an admission pipeline. Panics if loader is nil; a
// nil disabled set means nothing is disabled and a nil gatekeeper treats
// every key as inactive.
func NewPipeline(disabled *DisabledSet, gate Gatekeeper, loader Loader, opts ...PipelineOption) *Pipeline {
	if loader == nil {
		panic("plugin: pipeline loader cannot be nil")
	}
	if disabled == nil {
		disabled = &DisabledSet{}
	}
	if gate == nil {
		gate = StaticGatekeeper(nil)
	}
	p := &Pipeline{
		disabled: disabled,
		gate:     gate,
		loader:   loader,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Admit classifies each descriptor, in input order, into exactly one of
// {admitted, disabled, gatekept, failed}. Checks apply in fixed order:
// disable list, then gatekeeper, then load. A descriptor that is both
// disabled and gatekept is reported only as disabled. No single bad
// descriptor aborts the batch.
func (p *Pipeline) Admit(ctx context.Context, descs []Descriptor) []Outcome {
	outcomes := make([]Outcome, 0, len(descs))
	for _, d := range descs {
		o := p.admitOne(ctx, d)
		observability.RecordAdmission(o.Kind.String())
		outcomes = append(outcomes, o)

		switch o.Kind {
		case OutcomeAdmitted:
			p.logger.Info("plugin admitted",
				"plugin", d.Name,
				"id", o.Plugin.RuntimeID(),
				"kind", o.Plugin.Metadata.Kind.String(),
			)
		case OutcomeDisabled:
			p.logger.Debug("plugin disabled by configuration", "plugin", d.Name)
		case OutcomeGatekept:
			p.logger.Debug("plugin gatekept", "plugin", d.Name, "key", d.GatekeeperKey)
		case OutcomeFailed:
			p.logger.Warn("plugin failed to load",
				"plugin", d.Name,
				"error", o.Reason,
			)
		}
	}
	return outcomes
}

func (p *Pipeline) admitOne(ctx context.Context, d Descriptor) (out Outcome) {
	out = Outcome{Descriptor: d}

	if p.disabled.Contains(d.Name) {
		out.Kind = OutcomeDisabled
		return out
	}

	if d.GatekeeperKey != "" && !p.gate.Enabled(d.GatekeeperKey) {
		out.Kind = OutcomeGatekept
		return out
	}

	// The id field is the implementation's to declare. A manifest that
	// redeclares it is a packaging error for this descriptor only.
	if d.ID != "" {
		out.Kind = OutcomeFailed
		out.Reason = oops.Code("LOAD_ID_RESERVED").With("plugin", d.Name).
			New("manifest must not declare the reserved id field")
		return out
	}

	// A panicking host counts as a load failure, never aborts the batch.
	defer func() {
		if r := recover(); r != nil {
			out.Kind = OutcomeFailed
			out.Plugin = nil
			out.Reason = oops.Code("LOAD_PANIC").With("plugin", d.Name).Errorf("plugin load panicked: %v", r)
		}
	}()

	inst, err := p.loader.Load(ctx, d)
	if err != nil {
		out.Kind = OutcomeFailed
		out.Reason = err
		return out
	}

	out.Kind = OutcomeAdmitted
	out.Plugin = &Loaded{
		Descriptor: d,
		Instance:   inst,
		Metadata:   backfill(d, inst.Metadata()),
	}
	return out
}

// backfill merges descriptor metadata into the implementation's view. The
// descriptor is the default: it fills empty implementation fields and
// never overrides a declared value.
//
// Boundary: an implementation that legitimately declares an empty string
// is indistinguishable from one that declared nothing, so the descriptor
// value wins there. Kept for parity with descriptor-as-default semantics.
func backfill(d Descriptor, md Metadata) Metadata {
	if md.Name == "" {
		md.Name = d.Name
	}
	if md.Title == "" {
		md.Title = d.Title
	}
	if md.Icon == "" {
		md.Icon = d.Icon
	}
	if md.Version == "" {
		md.Version = d.Version
	}
	return md
}
