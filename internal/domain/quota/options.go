package quota

// Option applies a configuration option to the Policy.
type Option func(*Policy)

// WithAnonymousMinutes sets the guest allotment.
func WithAnonymousMinutes(minutes float64) Option {
	return func(p *Policy) {
		if minutes >= 0 {
			p.anonymous = minutes
		}
	}
}

// WithTrialMinutes sets the trial allotment.
func WithTrialMinutes(minutes float64) Option {
	return func(p *Policy) {
		if minutes >= 0 {
			p.trial = minutes
		}
	}
}

// WithPaidDefaultMinutes sets the allotment of paid callers without a plan.
func WithPaidDefaultMinutes(minutes float64) Option {
	return func(p *Policy) {
		if minutes >= 0 {
			p.paidDefault = minutes
		}
	}
}

// WithPlans sets the named paid plan table. Negative entries are ignored.
func WithPlans(plans map[string]float64) Option {
	return func(p *Policy) {
		p.plans = make(map[string]float64, len(plans))
		for name, minutes := range plans {
			if minutes >= 0 {
				p.plans[normalizePlan(name)] = minutes
			}
		}
	}
}

// ComputeOption adjusts a single Compute call.
type ComputeOption func(*computeOptions)

type computeOptions struct {
	override    float64
	hasOverride bool
}

// WithOverride replaces the class allotment with an administrator value.
// Ignored for the admin class.
func WithOverride(totalMinutes float64) ComputeOption {
	return func(o *computeOptions) {
		o.override = totalMinutes
		o.hasOverride = true
	}
}
