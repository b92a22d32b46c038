package domain

// Rule is a single named detector with a base score and an enabled flag.
type Rule struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"desc" yaml:"desc"`
	Score       int    `json:"score" yaml:"score"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
}

// RuleGroup is a thematic collection of rules sharing an enable switch.
// A disabled group disables all of its rules regardless of their own flags.
type RuleGroup struct {
	GroupID string `json:"group_id" yaml:"group_id"`
	Label   string `json:"label" yaml:"label"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Rules   []Rule `json:"rules" yaml:"rules"`
}

// Rule ids with detectors. G003, G005, G006 and M002 are catalog-only.
const (
	RuleManyToOne        = "G002"
	RuleAmountClustering = "G004"
	RuleInOutVelocity    = "G001"
	RulePassThrough      = "M001"
	RuleVelocityBurst    = "M003"
	RuleProfileMismatch  = "M004"
	RulePromptPay        = "M005"
	RuleNetworkRisk      = "M006"

	// RuleVolume is the always-on volume amplification; it is not in the catalog.
	RuleVolume = "VOLUME"
)

// RuleContribution records how one triggered rule moved the total.
type RuleContribution struct {
	RuleID       string  `json:"rule_id"`
	BaseScore    int     `json:"base_score"`
	Multiplier   float64 `json:"multiplier"`
	Contribution int     `json:"contribution"`
}

// ModelConfig is the scoring model description returned by GET /rules.
type ModelConfig struct {
	Version   string    `json:"version"`
	RiskModel RiskModel `json:"risk_model"`
	UIConfig  UIConfig  `json:"ui_config"`
}

// RiskModel names the scoring strategy and its thresholds.
type RiskModel struct {
	ScoringType string         `json:"scoring_type"`
	Thresholds  ThresholdsView `json:"thresholds"`
}

// ThresholdsView is the wire form of the decision thresholds.
type ThresholdsView struct {
	Monitor  int `json:"monitor"`
	Review   int `json:"review"`
	HighRisk int `json:"high_risk"`
}

// UIConfig carries display hints for the rule console.
type UIConfig struct {
	Toggleable  bool   `json:"toggleable"`
	DefaultView string `json:"default_view"`
}

// Scoring model identifiers.
const (
	RuleVersion = "2.0.0"
	ScoringType = "graph_aware_compound"
)

// ClusteringAmounts are round transfer values typical of gambling top-ups and payouts.
var ClusteringAmounts = [...]float64{100, 200, 300, 500, 1000, 1500}

// IsClusteringAmount reports whether amount is one of ClusteringAmounts.
func IsClusteringAmount(amount float64) bool {
	for _, a := range ClusteringAmounts {
		if amount == a {
			return true
		}
	}
	return false
}
