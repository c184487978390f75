// Package admission composes the per-request gate for tracker traffic: an
// ordered list of checks folded over the request, short-circuiting on the
// first denial. Order is policy, not accident — the cheapest and most
// attacker-reachable checks run first, so a banned address never costs a
// credential verification or a resource lookup.
package admission

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Reason is the stable machine-readable code attached to a denial. Callers
// see only these codes, never internal error text.
type Reason string

// Denial reason codes.
const (
	ReasonAddressBanned          Reason = "address_banned"
	ReasonUnauthorized           Reason = "unauthorized"
	ReasonResourceNotFound       Reason = "resource_not_found"
	ReasonTemporarilyUnavailable Reason = "temporarily_unavailable"
)

// Request is one protocol-level action awaiting admission.
type Request struct {
	// ResourceID identifies the torrent being announced or scraped.
	ResourceID string
	// Address is the requester's network address in textual form.
	Address string
	// Passkey is the per-account announce key, when the request came over
	// the tracker protocol.
	Passkey string
	// Credential is the bearer token, when the request came over the API.
	Credential string
}

// Decision is the outcome of the pipeline. Every branch of every check
// resolves to a Decision; no error crosses the pipeline boundary.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Allow is the decision that lets a request proceed.
var Allow = Decision{Allowed: true}

// Deny builds a denial carrying the given reason code.
func Deny(reason Reason) Decision {
	return Decision{Reason: reason}
}

// Check evaluates one admission rule against a request.
type Check func(ctx context.Context, req Request) Decision

var (
	decisionMetricOnce sync.Once
	decisionCounter    *prometheus.CounterVec
)

func decisionMetric() *prometheus.CounterVec {
	decisionMetricOnce.Do(func() {
		decisionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swarmgate_admission_decisions_total",
			Help: "Admission pipeline outcomes by reason code.",
		}, []string{"outcome", "reason"})
		prometheus.MustRegister(decisionCounter)
	})
	return decisionCounter
}

// Pipeline folds its checks left to right over each request.
type Pipeline struct {
	checks []Check
}

// NewPipeline builds a pipeline from ordered checks.
func NewPipeline(checks ...Check) *Pipeline {
	return &Pipeline{checks: checks}
}

// Admit runs the checks in order, stopping at the first denial.
func (p *Pipeline) Admit(ctx context.Context, req Request) Decision {
	counter := decisionMetric()
	for _, check := range p.checks {
		if decision := check(ctx, req); !decision.Allowed {
			counter.WithLabelValues("deny", string(decision.Reason)).Inc()
			return decision
		}
	}
	counter.WithLabelValues("allow", "").Inc()
	return Allow
}
