package domain

import (
	"strconv"
	"strings"
)

// Identity is the name and address pair compared during identity resolution.
type Identity struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// RegistryRecord is a read-only record from an external registry such as a
// vehicle or utility registry.
type RegistryRecord struct {
	ID         string            `json:"id,omitempty"`
	Name       string            `json:"name"`
	Address    string            `json:"address"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Identity returns the record's identity.
func (r *RegistryRecord) Identity() Identity {
	return Identity{Name: r.Name, Address: r.Address}
}

// Attr returns a trimmed attribute value, or "" when absent.
func (r *RegistryRecord) Attr(key string) string {
	if r.Attributes == nil {
		return ""
	}
	return strings.TrimSpace(r.Attributes[key])
}

// FloatAttr returns a numeric attribute. ok is false when the attribute is
// missing or not a number.
func (r *RegistryRecord) FloatAttr(key string) (float64, bool) {
	v := r.Attr(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Registry attribute keys.
const (
	AttrVehicleType    = "vehicle_type"
	AttrVehicleModel   = "vehicle_model"
	AttrOwnerID        = "owner_id"
	AttrAvgMonthlyBill = "avg_monthly_bill"
	AttrFamilyID       = "family_id"
)

// IdentityMatch is the outcome of comparing two identities.
type IdentityMatch struct {
	Match             bool    `json:"match"`
	Confidence        float64 `json:"confidence"`
	Detail            string  `json:"detail"`
	NameSimilarity    float64 `json:"nameSimilarity"`
	AddressSimilarity float64 `json:"addressSimilarity"`
}
