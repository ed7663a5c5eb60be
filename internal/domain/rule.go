package domain

// RuleConfig is a tenant-defined contract rule. Expression is a boolean CEL
// expression over the contract facts exposed by the rules engine.
type RuleConfig struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"tenantId"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Version     string   `json:"version"`
	Expression  string   `json:"expression"`
	Severity    Severity `json:"severity"`
	Enabled     bool     `json:"enabled"`
}

// RuleHit records a matched tenant rule.
type RuleHit struct {
	RuleID      string   `json:"ruleId"`
	Name        string   `json:"name"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}
