package quality

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/boddenberg/support-agent-go/internal/domain"
)

// Replies used when a critical rule fires and the rule carries no
// suggested response of its own.
const (
	EscalationReplyFormat = "I'd like to connect you with our %s who can better assist you with that. They'll be able to provide the specific information you need."
	PolicyReply           = "I want to make sure I give you accurate information. Let me connect you with someone who can help you with that."
)

// DefaultGlobalRules apply to every agent.
var DefaultGlobalRules = []domain.ConstraintRule{
	{
		ID:          "no-pricing",
		Type:        domain.ConstraintForbiddenPhrase,
		Severity:    domain.SeverityCritical,
		Pattern:     `\$\d+|\b\d+\s*(dollars?|pounds?|euros?|gbp|usd|eur)\b|\bprice\s+is\b|\bcosts?\s+\d+`,
		Message:     "Cannot quote specific prices",
		EscalateTo:  "sales team",
		Replacement: "our sales team can provide pricing information",
	},
	{
		ID:         "no-discounts",
		Type:       domain.ConstraintForbiddenCommitment,
		Severity:   domain.SeverityCritical,
		Pattern:    `\b\d+%\s+off\b|\bdiscount|\bspecial\s+offer\b|\bsale\s+price\b`,
		Message:    "Cannot offer discounts or promotions",
		EscalateTo: "sales team",
	},
	{
		ID:         "no-refunds",
		Type:       domain.ConstraintForbiddenCommitment,
		Severity:   domain.SeverityCritical,
		Pattern:    `\b(you('ll| will) (get|receive) a (full )?refund|money back|reimburse|compensation)\b`,
		Message:    "Cannot promise refunds or compensation",
		EscalateTo: "customer service manager",
	},
	{
		ID:          "no-delivery-dates",
		Type:        domain.ConstraintForbiddenCommitment,
		Severity:    domain.SeverityHigh,
		Pattern:     `\bwill\s+arrive\b|\bdelivery\s+by\b|\bguaranteed\s+delivery\b`,
		Message:     "Cannot commit to specific delivery dates",
		EscalateTo:  "fulfillment team",
		Replacement: "our fulfillment team can provide delivery estimates",
	},
	{
		ID:         "no-account-changes",
		Type:       domain.ConstraintForbiddenAction,
		Severity:   domain.SeverityCritical,
		Pattern:    `\b(i('ve| have)? (changed|reset) your password|i('ve| have)? updated your email|i('ve| have)? modified your account)\b`,
		Message:    "Cannot modify user accounts",
		EscalateTo: "account manager",
	},
	{
		ID:         "no-legal-advice",
		Type:       domain.ConstraintForbiddenPhrase,
		Severity:   domain.SeverityCritical,
		Pattern:    `\blegal\s+advice\b|\byou\s+should\s+sue\b|\byour\s+legal\s+rights\b`,
		Message:    "Cannot provide legal advice",
		EscalateTo: "legal team",
	},
	{
		ID:         "no-medical-advice",
		Type:       domain.ConstraintForbiddenPhrase,
		Severity:   domain.SeverityCritical,
		Pattern:    `\bmedical\s+advice\b|\bdiagnosis\b|\bprescription\b`,
		Message:    "Cannot provide medical advice",
		EscalateTo: "medical professional",
	},
}

type compiledRule struct {
	domain.ConstraintRule
	re *regexp.Regexp
}

// ConstraintValidator enforces business rules at three levels: global,
// tenant and agent. Rules are checked in that order.
type ConstraintValidator struct {
	mu      sync.RWMutex
	global  []compiledRule
	tenants map[string][]compiledRule
	agents  map[string][]compiledRule
}

// NewConstraintValidator creates a validator with the given global rules,
// or DefaultGlobalRules when none are given.
func NewConstraintValidator(global ...domain.ConstraintRule) (*ConstraintValidator, error) {
	if len(global) == 0 {
		global = DefaultGlobalRules
	}
	compiled, err := compileRules(global)
	if err != nil {
		return nil, err
	}
	return &ConstraintValidator{
		global:  compiled,
		tenants: map[string][]compiledRule{},
		agents:  map[string][]compiledRule{},
	}, nil
}

// RegisterTenant replaces the rules of a tenant.
func (v *ConstraintValidator) RegisterTenant(tenantID string, rules []domain.ConstraintRule) error {
	compiled, err := compileRules(rules)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.tenants[tenantID] = compiled
	v.mu.Unlock()
	return nil
}

// RegisterAgent replaces the rules of an agent.
func (v *ConstraintValidator) RegisterAgent(agentID string, rules []domain.ConstraintRule) error {
	compiled, err := compileRules(rules)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.agents[agentID] = compiled
	v.mu.Unlock()
	return nil
}

// RuleCount reports how many rules apply to an agent of a tenant.
func (v *ConstraintValidator) RuleCount(tenantID, agentID string) int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.global) + len(v.tenants[tenantID]) + len(v.agents[agentID])
}

// Validate checks reply, and userMessage for rules with MatchRequest set.
func (v *ConstraintValidator) Validate(reply, userMessage, tenantID, agentID string) domain.ConstraintResult {
	v.mu.RLock()
	sets := [][]compiledRule{v.global, v.tenants[tenantID], v.agents[agentID]}
	v.mu.RUnlock()

	var violations []domain.ConstraintViolation
	var suggested []string
	for _, rules := range sets {
		for _, r := range rules {
			if r.MatchRequest && userMessage != "" {
				if m := r.re.FindString(userMessage); m != "" {
					violations = append(violations, r.violation(m, true))
					suggested = append(suggested, r.SuggestedResponse)
					continue
				}
			}
			if m := r.re.FindString(reply); m != "" {
				violations = append(violations, r.violation(m, false))
				suggested = append(suggested, r.SuggestedResponse)
			}
		}
	}

	result := domain.ConstraintResult{Passed: len(violations) == 0, Violations: violations}
	if result.Passed {
		return result
	}

	critical := -1
	for i, vi := range violations {
		if vi.Severity == domain.SeverityCritical {
			critical = i
			break
		}
	}
	for i, vi := range violations {
		if vi.Type == domain.ConstraintEscalationRequired || vi.EscalateTo != "" || i == critical {
			result.RequiresEscalation = true
		}
		if result.EscalateTo == "" && vi.EscalateTo != "" {
			result.EscalateTo = vi.EscalateTo
		}
	}

	if critical >= 0 {
		first := violations[critical]
		result.EscalateTo = first.EscalateTo
		switch {
		case suggested[critical] != "":
			result.SuggestedResponse = suggested[critical]
		case first.EscalateTo != "":
			result.SuggestedResponse = fmt.Sprintf(EscalationReplyFormat, first.EscalateTo)
		default:
			result.SuggestedResponse = PolicyReply
		}
		return result
	}

	result.SuggestedResponse = v.repair(reply, violations, sets)
	if result.SuggestedResponse == "" {
		for _, s := range suggested {
			if s != "" {
				result.SuggestedResponse = s
				break
			}
		}
	}
	return result
}

// repair swaps matched text for rule replacements. Empty when nothing
// changed.
func (v *ConstraintValidator) repair(reply string, violations []domain.ConstraintViolation, sets [][]compiledRule) string {
	replacements := map[string]string{}
	for _, rules := range sets {
		for _, r := range rules {
			if r.Replacement != "" {
				replacements[r.ID] = r.Replacement
			}
		}
	}
	fixed := reply
	for _, vi := range violations {
		if rep, ok := replacements[vi.RuleID]; ok && !vi.InRequest {
			fixed = strings.Replace(fixed, vi.Matched, rep, 1)
		}
	}
	if fixed == reply {
		return ""
	}
	return fixed
}

func (r compiledRule) violation(matched string, inRequest bool) domain.ConstraintViolation {
	return domain.ConstraintViolation{
		RuleID:     r.ID,
		Type:       r.Type,
		Severity:   r.Severity,
		Message:    r.Message,
		Matched:    matched,
		InRequest:  inRequest,
		EscalateTo: r.EscalateTo,
	}
}

func compileRules(rules []domain.ConstraintRule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if strings.TrimSpace(r.ID) == "" {
			return nil, &domain.ErrValidation{Field: "policy.id", Message: "rule id is required"}
		}
		if strings.TrimSpace(r.Pattern) == "" {
			return nil, &domain.ErrValidation{Field: "policy." + r.ID, Message: "pattern is required"}
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, &domain.ErrValidation{Field: "policy." + r.ID, Message: fmt.Sprintf("invalid pattern: %v", err)}
		}
		if r.Severity == "" {
			r.Severity = domain.SeverityMedium
		}
		out = append(out, compiledRule{ConstraintRule: r, re: re})
	}
	return out, nil
}
