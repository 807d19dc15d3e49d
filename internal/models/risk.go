package models

// RiskFactor 风险子项名称。
type RiskFactor string

const (
	FactorPhase    RiskFactor = "phase"
	FactorTool     RiskFactor = "tool"
	FactorTarget   RiskFactor = "target"
	FactorCommand  RiskFactor = "command"
	FactorNetwork  RiskFactor = "network"
	FactorTemporal RiskFactor = "temporal"
)

// RiskAssessment 风险评估结果。
type RiskAssessment struct {
	RiskLevel                 RiskLevel              `json:"risk_level"`
	RiskScore                 float64                `json:"risk_score"`
	SubScores                 map[RiskFactor]float64 `json:"sub_scores,omitempty"`
	RiskFactors               []string               `json:"risk_factors,omitempty"`
	Impact                    string                 `json:"impact"`
	Likelihood                string                 `json:"likelihood"`
	DestructivePotential      bool                   `json:"destructive_potential"`
	DataExposureRisk          bool                   `json:"data_exposure_risk"`
	AvailabilityRisk          bool                   `json:"availability_risk"`
	ComplianceRisk            bool                   `json:"compliance_risk"`
	RecommendedConditions     []string               `json:"recommended_conditions,omitempty"`
	RecommendedTimeoutMinutes int                    `json:"recommended_timeout_minutes"`
	RequiredApproverLevel     ApproverRole           `json:"required_approver_level"`
}
