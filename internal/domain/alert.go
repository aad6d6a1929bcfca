package domain

import "time"

// AlertRule defines an alerting rule evaluated against annotated
// transactions. The expression is CEL over the annotation variables
// (risk, category, amount, fee, direction, flags).
type AlertRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// CEL expression; must return bool
	Expression string `json:"expression"`

	// Severity propagated to notifications: "info", "warning", "critical"
	Severity string `json:"severity"`

	// Whether rule is active
	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// AlertMatch records one rule that fired for an annotation.
type AlertMatch struct {
	RuleID   string `json:"ruleId"`
	Name     string `json:"name"`
	Severity string `json:"severity"`
	Reason   string `json:"reason"`
}

// Severity levels for alert rules.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// DefaultAlertRule reproduces the fixed risk threshold the first version
// of the product shipped with: flag anything scoring 0.75 or above.
func DefaultAlertRule() *AlertRule {
	return &AlertRule{
		ID:          "rule-high-risk",
		Name:        "High risk score",
		Description: "Transaction risk score at or above 0.75",
		Expression:  "risk >= 0.75",
		Severity:    SeverityCritical,
		Enabled:     true,
	}
}
