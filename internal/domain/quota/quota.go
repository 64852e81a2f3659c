// Package quota maps identity classes to allotments and derives the
// remaining balance. Everything here is pure; consumption is supplied by
// the caller.
package quota

import (
	"context"
	"math"
	"strings"

	"github.com/okian/voxmeter/internal/domain/model"
	"github.com/okian/voxmeter/pkg/decimal"
)

// AdminSentinelMinutes is the allotment reported for the admin class.
const AdminSentinelMinutes = 999_999_999

// Policy holds the allotment table.
type Policy struct {
	anonymous   float64
	trial       float64
	paidDefault float64
	plans       map[string]float64
}

// NewPolicy creates a Policy with the default table.
func NewPolicy(opts ...Option) *Policy {
	p := &Policy{
		anonymous:   5,
		trial:       10,
		paidDefault: 60,
		plans:       map[string]float64{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func normalizePlan(plan string) string {
	return strings.ToLower(strings.TrimSpace(plan))
}

// Allotment returns the total minutes granted to class on plan. Unknown
// classes and unknown named plans get the anonymous allotment; an empty plan
// on the paid class gets the default paid allotment.
func (p *Policy) Allotment(class model.IdentityClass, plan string) float64 {
	switch class {
	case model.ClassAdmin:
		return AdminSentinelMinutes
	case model.ClassTrial:
		return p.trial
	case model.ClassPaid:
		name := normalizePlan(plan)
		if name == "" {
			return p.paidDefault
		}
		if minutes, ok := p.plans[name]; ok {
			return minutes
		}
		return p.anonymous
	default:
		return p.anonymous
	}
}

// Plans returns a copy of the plan table.
func (p *Policy) Plans() map[string]float64 {
	out := make(map[string]float64, len(p.plans))
	for k, v := range p.plans {
		out[k] = v
	}
	return out
}

// Compute derives the quota state of ic given consumedMinutes.
func (p *Policy) Compute(_ context.Context, ic model.IdentityContext, consumedMinutes float64, opts ...ComputeOption) model.QuotaState {
	var o computeOptions
	for _, opt := range opts {
		opt(&o)
	}

	class := ic.Class
	if !class.Known() {
		class = model.ClassAnonymous
	}

	state := model.QuotaState{Class: class}
	var allotment float64
	switch {
	case class == model.ClassAdmin:
		allotment = AdminSentinelMinutes
		state.Unlimited = true
	case o.hasOverride && o.override >= 0 && !math.IsNaN(o.override):
		allotment = o.override
		state.Overridden = true
	case ic.Degraded():
		// A random fingerprint could otherwise mint fresh quota on every visit.
		allotment = p.anonymous
	default:
		allotment = p.Allotment(class, ic.Plan)
	}

	consumed := decimal.FromFloat(consumedMinutes)
	if consumed.Sign() < 0 {
		consumed = decimal.Zero
	}
	total := decimal.FromFloat(allotment)
	remaining := decimal.Max(total.Sub(consumed), decimal.Zero)

	state.AllotmentMinutes = total.Float64()
	state.ConsumedMinutes = consumed.Float64()
	state.RemainingMinutes = remaining.Float64()
	return state
}
