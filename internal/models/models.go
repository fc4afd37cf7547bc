package models

import (
	"time"
)

type BloodType string

const (
	APos  BloodType = "A+"
	ANeg  BloodType = "A-"
	BPos  BloodType = "B+"
	BNeg  BloodType = "B-"
	OPos  BloodType = "O+"
	ONeg  BloodType = "O-"
	ABPos BloodType = "AB+"
	ABNeg BloodType = "AB-"
)

// BloodTypes lists every accepted blood group in display order.
var BloodTypes = []BloodType{APos, ANeg, BPos, BNeg, OPos, ONeg, ABPos, ABNeg}

// IsValid reports whether t is one of the eight clinical blood groups.
func (t BloodType) IsValid() bool {
	for _, bt := range BloodTypes {
		if bt == t {
			return true
		}
	}
	return false
}

type UrgencyLevel string

const (
	UrgencyLow      UrgencyLevel = "Low"
	UrgencyMedium   UrgencyLevel = "Medium"
	UrgencyHigh     UrgencyLevel = "High"
	UrgencyCritical UrgencyLevel = "Critical"
)

// Rank orders urgency levels; unknown values rank with Medium.
func (u UrgencyLevel) Rank() int {
	switch u {
	case UrgencyLow:
		return 0
	case UrgencyHigh:
		return 2
	case UrgencyCritical:
		return 3
	default:
		return 1
	}
}

// ParseUrgency maps free-form model output onto the closed set, defaulting to Medium.
func ParseUrgency(s string) UrgencyLevel {
	switch UrgencyLevel(s) {
	case UrgencyLow, UrgencyHigh, UrgencyCritical:
		return UrgencyLevel(s)
	default:
		return UrgencyMedium
	}
}

type RequestSource string

const (
	SourceIndividual RequestSource = "Individual"
	SourceHospital   RequestSource = "Hospital"
)

// RequestDetail is one blood type and the number of units needed
type RequestDetail struct {
	BloodType BloodType `json:"bloodType"`
	Quantity  int       `json:"quantity"`
}

// Analysis is the AI triage attached to a request
type Analysis struct {
	Urgency          UrgencyLevel `json:"urgency"`
	Summary          string       `json:"summary"`
	SuggestedMessage string       `json:"suggestedMessage"`
}

// BloodRequest is a donation appeal from an individual or a hospital.
// For hospitals PatientName carries the requesting department.
type BloodRequest struct {
	ID           string `json:"id"`
	PatientName  string `json:"patientName"`
	HospitalName string `json:"hospitalName"`
	Region       string `json:"governorate"`

	// single-type mirror kept for older consumers
	BloodType BloodType `json:"bloodType"`
	Quantity  int       `json:"quantity,omitempty"`

	Details       []RequestDetail `json:"requestDetails,omitempty"`
	ContactNumber string          `json:"contactNumber"`
	Description   string          `json:"description"`
	Source        RequestSource   `json:"source"`
	Analysis      *Analysis       `json:"aiAnalysis,omitempty"`
	Status        RequestStatus   `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// TotalQuantity sums the detail quantities, falling back to the top-level
// quantity (or one unit) for single-type records.
func (r BloodRequest) TotalQuantity() int {
	if len(r.Details) > 0 {
		total := 0
		for _, d := range r.Details {
			total += d.Quantity
		}
		return total
	}
	if r.Quantity > 0 {
		return r.Quantity
	}
	return 1
}

// AppConfig holds the outbound channel settings editable by operators
type AppConfig struct {
	BotToken       string `json:"botToken"`
	ChatID         string `json:"chatId"`
	WhatsAppNumber string `json:"whatsappNumber"`
}

// CanDispatch reports whether the chat-bot channel is configured.
func (c AppConfig) CanDispatch() bool {
	return c.BotToken != "" && c.ChatID != ""
}

// Hospitals are the facilities accepted for the served region
var Hospitals = []string{
	"Al-Diwaniyah Teaching Hospital",
	"Maternity and Children Teaching Hospital",
	"Al-Shamiya General Hospital",
	"Afak General Hospital",
	"Al-Hamza General Hospital",
	"Al-Rumaitha General Hospital",
}

// IsKnownHospital reports whether name is in the Hospitals list.
func IsKnownHospital(name string) bool {
	for _, h := range Hospitals {
		if h == name {
			return true
		}
	}
	return false
}
