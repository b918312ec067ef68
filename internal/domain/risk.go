package domain

// UserRiskSnapshot is a read-only churn risk reading supplied by the
// scoring service. The engine never mutates one.
type UserRiskSnapshot struct {
	UserID           string  `json:"user_id"`
	ChurnProbability float64 `json:"churn_probability"`
	IsChurned        bool    `json:"is_churned"`
	RiskLevel        string  `json:"risk_level,omitempty"`
	Recommendation   string  `json:"recommendation,omitempty"`
}

// RiskPercent returns the churn probability as a rounded percentage,
// the form events and logs use.
func (s UserRiskSnapshot) RiskPercent() int {
	return int(s.ChurnProbability*100 + 0.5)
}
