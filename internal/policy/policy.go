// Package policy enforces content tiers over composed category sets.
// Tiers form a total order general < mature < explicit: a request at tier T
// admits a category at tier C iff C <= T.
package policy

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/promptforge/promptforge/pkg/models"
)

// Violation names one category that exceeds the requested tier.
type Violation struct {
	CategoryID string            `json:"category_id"`
	Required   models.PolicyTier `json:"required_tier"`
	Requested  models.PolicyTier `json:"requested_tier"`
}

func (v Violation) Error() string {
	return fmt.Sprintf("category %s requires tier %s, request allows %s", v.CategoryID, v.Required, v.Requested)
}

// Decision is the outcome of one policy check.
type Decision struct {
	Allowed    bool              `json:"allowed"`
	Tier       models.PolicyTier `json:"tier"`
	Violations []Violation       `json:"violations,omitempty"`
}

// Enforcer checks category sets against a requested tier and records every
// decision to the audit log.
type Enforcer struct{}

// NewEnforcer returns the tier enforcer.
func NewEnforcer() *Enforcer { return &Enforcer{} }

// Check evaluates every category against the requested tier. An empty or
// unknown tier is treated as general. The decision, allow or deny, is
// written to the audit trail at this call site.
func (e *Enforcer) Check(categories []*models.Category, tier models.PolicyTier) Decision {
	if !models.ValidPolicyTier(tier) {
		tier = models.TierGeneral
	}

	decision := Decision{Allowed: true, Tier: tier}
	for _, c := range categories {
		if !tier.Allows(c.PolicyTier) {
			decision.Allowed = false
			decision.Violations = append(decision.Violations, Violation{
				CategoryID: c.ID,
				Required:   c.PolicyTier,
				Requested:  tier,
			})
		}
	}

	event := log.Info()
	if !decision.Allowed {
		event = log.Warn()
	}
	ids := make([]string, 0, len(categories))
	for _, c := range categories {
		ids = append(ids, c.ID)
	}
	event.
		Strs("categories", ids).
		Str("requested_tier", string(tier)).
		Bool("allowed", decision.Allowed).
		Int("violations", len(decision.Violations)).
		Msg("Policy check")

	return decision
}
