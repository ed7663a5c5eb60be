package domain

// Applicant is a welfare applicant as received from the applicant store.
type Applicant struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	DateOfBirth    string  `json:"dob"`
	Address        string  `json:"address"`
	DeclaredIncome float64 `json:"declaredIncome"`
	AssetCategory  string  `json:"assetCategory"`
}

// Identity returns the applicant's identity for registry resolution.
func (a *Applicant) Identity() Identity {
	return Identity{Name: a.Name, Address: a.Address}
}

// Feature names in schema order.
const (
	FeatureIncomeLevel         = "income_level"
	FeatureAgeYears            = "age_years"
	FeatureAssetRiskScore      = "asset_risk_score"
	FeatureAddressComplexity   = "address_complexity"
	FeatureIncomeAssetMismatch = "income_asset_mismatch"
)

// FeatureSchema returns the ordered feature names produced by the feature
// engineer. A trained model stores the schema it was fitted on.
func FeatureSchema() []string {
	return []string{
		FeatureIncomeLevel,
		FeatureAgeYears,
		FeatureAssetRiskScore,
		FeatureAddressComplexity,
		FeatureIncomeAssetMismatch,
	}
}

// FeatureVector is the numeric encoding of an applicant.
type FeatureVector struct {
	IncomeLevel         int     `json:"incomeLevel"`
	AgeYears            float64 `json:"ageYears"`
	AssetRiskScore      int     `json:"assetRiskScore"`
	AddressComplexity   int     `json:"addressComplexity"`
	IncomeAssetMismatch float64 `json:"incomeAssetMismatch"`

	// AssetCategory is the declared category the asset score came from.
	// It is descriptive only and not part of the schema.
	AssetCategory string `json:"assetCategory,omitempty"`
}

// Values returns the vector in FeatureSchema order.
func (f FeatureVector) Values() []float64 {
	return []float64{
		float64(f.IncomeLevel),
		f.AgeYears,
		float64(f.AssetRiskScore),
		float64(f.AddressComplexity),
		f.IncomeAssetMismatch,
	}
}

// RiskStatus is the traffic-light status of an applicant.
type RiskStatus string

const (
	RiskStatusGreen  RiskStatus = "green"
	RiskStatusYellow RiskStatus = "yellow"
	RiskStatusRed    RiskStatus = "red"
)

// Level returns the risk level paired with the status.
func (s RiskStatus) Level() RiskLevel {
	switch s {
	case RiskStatusRed:
		return RiskLevelHigh
	case RiskStatusYellow:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// Prediction is the classifier output for one feature vector.
type Prediction struct {
	FraudProbability float64       `json:"fraudProbability"`
	RiskStatus       RiskStatus    `json:"riskStatus"`
	RiskLevel        RiskLevel     `json:"riskLevel"`
	IsFraud          bool          `json:"isFraud"`
	Flags            []Flag        `json:"flags"`
	Features         FeatureVector `json:"features"`
	ModelVersion     string        `json:"modelVersion"`
}

// ApplicantAssessment is the scored outcome for a welfare applicant. The
// classifier result is primary; registry flags are appended after it.
type ApplicantAssessment struct {
	ApplicantID      string        `json:"applicantId"`
	FraudProbability float64       `json:"fraudProbability"`
	RiskStatus       RiskStatus    `json:"riskStatus"`
	RiskLevel        RiskLevel     `json:"riskLevel"`
	IsFraud          bool          `json:"isFraud"`
	Flags            []Flag        `json:"flags"`
	Features         FeatureVector `json:"features"`
	ModelVersion     string        `json:"modelVersion"`
}
