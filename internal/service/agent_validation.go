package service

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/SpendPilot/internal/domain/agent"
)

// KeywordCatalog holds the word lists the validation agent matches against.
// Matching is on whole words of the lower-cased text; multi-word entries
// match as phrases.
type KeywordCatalog struct {
	Personal        []string            `yaml:"personal"`
	Vague           []string            `yaml:"vague"`
	Categories      map[string][]string `yaml:"categories"`
	PurposeRequired []string            `yaml:"purpose_required"`
	BusinessPurpose []string            `yaml:"business_purpose"`
}

// DefaultKeywordCatalog returns the built-in keyword lists.
func DefaultKeywordCatalog() *KeywordCatalog {
	return &KeywordCatalog{
		Personal: []string{
			"hungry", "food money", "personal", "birthday", "vacation", "groceries",
			"my rent", "netflix", "gym membership", "for myself", "my family", "my kids",
			"holiday gift", "date night", "spa",
		},
		Vague: []string{
			"stuff", "things", "misc", "miscellaneous", "various items", "need money",
			"cash advance", "whatever", "some money",
		},
		Categories: map[string][]string{
			"Office Supplies": {"paper", "pens", "stapler", "toner", "printer ink", "notebooks", "folders", "envelopes", "sticky notes"},
			"Software":        {"license", "licenses", "subscription", "saas", "software", "seats", "cloud hosting"},
			"Equipment":       {"laptop", "laptops", "monitor", "monitors", "keyboard", "computer", "standing desk", "office chair", "hardware", "headset"},
			"Travel":          {"flight", "flights", "hotel", "airfare", "train", "taxi", "uber", "mileage", "car rental"},
			"Meals":           {"lunch", "dinner", "breakfast", "catering", "restaurant", "meal", "meals"},
			"Training":        {"course", "training", "workshop", "certification", "conference", "seminar", "bootcamp"},
			"Marketing":       {"ads", "advertising", "campaign", "promotion", "sponsorship", "billboard"},
		},
		PurposeRequired: []string{"Software", "Equipment", "Training"},
		BusinessPurpose: []string{
			"team", "project", "client", "clients", "customer", "customers", "business", "work",
			"productivity", "company", "department", "development", "required for", "needed for",
			"support", "operations", "compliance", "security", "onboarding", "new hire", "engineering",
			"sales", "roadmap", "deadline",
		},
	}
}

// LoadKeywordCatalog reads a catalog from a YAML file. Sections left empty
// in the file keep their built-in values.
func LoadKeywordCatalog(path string) (*KeywordCatalog, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read keyword catalog: %w", err)
	}
	var override KeywordCatalog
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse keyword catalog %s: %w", path, err)
	}

	cat := DefaultKeywordCatalog()
	if len(override.Personal) > 0 {
		cat.Personal = override.Personal
	}
	if len(override.Vague) > 0 {
		cat.Vague = override.Vague
	}
	if len(override.Categories) > 0 {
		cat.Categories = override.Categories
	}
	if len(override.PurposeRequired) > 0 {
		cat.PurposeRequired = override.PurposeRequired
	}
	if len(override.BusinessPurpose) > 0 {
		cat.BusinessPurpose = override.BusinessPurpose
	}
	return cat, nil
}

// RequestValidationAgent rejects personal, vague, miscategorized or
// unjustified requests using keyword heuristics.
type RequestValidationAgent struct {
	catalog *KeywordCatalog
	stats   *agentStats
}

// NewRequestValidationAgent creates the validation agent. A nil catalog uses
// the built-in lists.
func NewRequestValidationAgent(catalog *KeywordCatalog) *RequestValidationAgent {
	if catalog == nil {
		catalog = DefaultKeywordCatalog()
	}
	return &RequestValidationAgent{
		catalog: catalog,
		stats:   newAgentStats(AgentRequestValidation),
	}
}

func (a *RequestValidationAgent) ID() string { return AgentRequestValidation }

func (a *RequestValidationAgent) Capabilities() agent.Capabilities {
	cats := make([]string, 0, len(a.catalog.Categories))
	for c := range a.catalog.Categories {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return agent.Capabilities{
		CanApprove:          true,
		CanDetectFraud:      true,
		SupportedCategories: cats,
	}
}

func (a *RequestValidationAgent) Metrics() agent.Metrics { return a.stats.snapshot() }

func (a *RequestValidationAgent) UpdateLearning(fb agent.Feedback) { a.stats.recordFeedback(&fb) }

// ProcessRequest applies legitimacy, category match and business purpose
// checks in that order. The first failing check denies.
func (a *RequestValidationAgent) ProcessRequest(_ context.Context, req *agent.Request, _ *agent.Context) agent.Response {
	return decide(a.ID(), req, a.stats, func() (agent.Response, error) {
		return a.validate(&req.Payload), nil
	})
}

func (a *RequestValidationAgent) validate(p *agent.Payload) agent.Response {
	text := normalizeText(p.Description)
	if strings.TrimSpace(text) == "" {
		return validationDeny(85, agent.RiskMedium, "Request has no description", "add_description")
	}

	if kw, ok := firstMatch(text, a.catalog.Personal); ok {
		return validationDeny(90, agent.RiskHigh,
			fmt.Sprintf("Description matches personal-expense keyword %q; personal expenses are not reimbursable", kw),
			"reject_personal_expense")
	}
	if kw, ok := firstMatch(text, a.catalog.Vague); ok {
		return validationDeny(80, agent.RiskMedium,
			fmt.Sprintf("Description is too vague (matched %q); describe what is being purchased", kw),
			"clarify_description")
	}

	if suggested, ok := a.categoryMismatch(text, p.Category); ok {
		return validationDeny(85, agent.RiskMedium,
			fmt.Sprintf("Description does not match category %q; it reads like %q", p.Category, suggested),
			"recategorize:"+suggested)
	}

	if a.purposeRequired(p.Category) {
		full := text + normalizeText(p.Justification)
		if _, ok := firstMatch(full, a.catalog.BusinessPurpose); !ok {
			return validationDeny(75, agent.RiskMedium,
				fmt.Sprintf("%s requests must state a business purpose", p.Category),
				"add_business_justification")
		}
	}

	return agent.Response{
		Decision:   agent.DecisionApprove,
		Confidence: 85,
		Reasoning:  "Request description is specific, business related and matches its category",
		RiskLevel:  agent.RiskLow,
	}
}

// categoryMismatch returns the category the text points to when it matches
// another category's keywords and none of the declared category's.
func (a *RequestValidationAgent) categoryMismatch(text, category string) (string, bool) {
	var own []string
	for c, kws := range a.catalog.Categories {
		if strings.EqualFold(c, category) {
			own = kws
			break
		}
	}
	if own == nil {
		// Unknown categories are left to policy checks.
		return "", false
	}
	if _, ok := firstMatch(text, own); ok {
		return "", false
	}

	best, bestHits := "", 0
	names := make([]string, 0, len(a.catalog.Categories))
	for c := range a.catalog.Categories {
		names = append(names, c)
	}
	sort.Strings(names)
	for _, c := range names {
		if strings.EqualFold(c, category) {
			continue
		}
		hits := countMatches(text, a.catalog.Categories[c])
		if hits > bestHits {
			best, bestHits = c, hits
		}
	}
	return best, bestHits > 0
}

func (a *RequestValidationAgent) purposeRequired(category string) bool {
	for _, c := range a.catalog.PurposeRequired {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}

func validationDeny(confidence float64, risk agent.RiskLevel, reasoning, action string) agent.Response {
	return agent.Response{
		Decision:         agent.DecisionDeny,
		Confidence:       confidence,
		Reasoning:        reasoning,
		RiskLevel:        risk,
		SuggestedActions: []string{action},
		ErrorKind:        agent.KindValidationFailure,
	}
}

// normalizeText lower-cases s and reduces it to space-separated words with a
// leading and trailing space, so " kw " matches whole words only.
func normalizeText(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return " "
	}
	return " " + strings.Join(words, " ") + " "
}

func firstMatch(text string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(text, normalizeText(kw)) {
			return kw, true
		}
	}
	return "", false
}

func countMatches(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, normalizeText(kw)) {
			n++
		}
	}
	return n
}
