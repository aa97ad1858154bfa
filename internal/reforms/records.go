package reforms

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// PlaceRecord is an incoming place, before it has an id.
type PlaceRecord struct {
	Name       string    `json:"name" validate:"required"`
	Kind       PlaceKind `json:"kind" validate:"required,oneof=state city county"`
	StateCode  string    `json:"state_code" validate:"required"`
	Population *int64    `json:"population,omitempty"`
	Latitude   *float64  `json:"latitude,omitempty"`
	Longitude  *float64  `json:"longitude,omitempty"`
}

// PolicyDocumentRecord is an incoming bill or ordinance.
type PolicyDocumentRecord struct {
	StateCode       string     `json:"state_code"`
	ReferenceNumber string     `json:"reference_number"`
	PlaceID         *int64     `json:"place_id,omitempty"`
	Title           *string    `json:"title,omitempty"`
	URL             *string    `json:"url,omitempty"`
	Status          *string    `json:"status,omitempty"`
	LastActionDate  *time.Time `json:"last_action_date,omitempty"`
	KeyPoints       []string   `json:"key_points,omitempty"`
	Analysis        *string    `json:"analysis,omitempty"`
	BillText        *string    `json:"bill_text,omitempty"`
}

// SourceMeta is the provenance carried by one reform record.
type SourceMeta struct {
	Reporter  *string `json:"reporter,omitempty"`
	SourceURL *string `json:"source_url,omitempty"`
	Notes     *string `json:"notes,omitempty"`
	IsPrimary *bool   `json:"is_primary,omitempty"`
}

// Primary reports the is_primary flag, which defaults to true.
func (m SourceMeta) Primary() bool {
	return m.IsPrimary == nil || *m.IsPrimary
}

type CitationRecord struct {
	Description *string `json:"description,omitempty"`
	URL         *string `json:"url,omitempty"`
	Notes       *string `json:"notes,omitempty"`
}

// ReformRecord is one candidate reform as handed over by an importer.
type ReformRecord struct {
	PlaceID           int64            `json:"place_id" validate:"required,gt=0"`
	ReformTypeIDs     []int64          `json:"reform_type_ids" validate:"required,min=1,dive,gt=0"`
	PolicyDocumentID  *int64           `json:"policy_document_id,omitempty" validate:"omitempty,gt=0"`
	Status            *Status          `json:"status,omitempty" validate:"omitempty,oneof=adopted failed proposed"`
	Scope             []string         `json:"scope,omitempty"`
	LandUse           []string         `json:"land_use,omitempty"`
	AdoptionDate      *time.Time       `json:"adoption_date,omitempty"`
	Summary           *string          `json:"summary,omitempty"`
	Requirements      []string         `json:"requirements,omitempty"`
	Notes             *string          `json:"notes,omitempty"`
	Mechanism         *string          `json:"reform_mechanism,omitempty"`
	Phase             *string          `json:"reform_phase,omitempty"`
	LegislativeNumber *string          `json:"legislative_number,omitempty"`
	LinkURL           *string          `json:"link_url,omitempty"`
	Source            SourceMeta       `json:"source"`
	Citations         []CitationRecord `json:"citations,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the structural rules of a record. Reference existence is
// checked separately against the store.
func (r *ReformRecord) Validate() error {
	return validationError(validate.Struct(r))
}

func (r *PlaceRecord) Validate() error {
	return validationError(validate.Struct(r))
}

func validationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{
			Field:   fe.Namespace(),
			Message: fmt.Sprintf("failed %q", fe.Tag()),
		}
	}
	return &ValidationError{Message: err.Error()}
}

// statusString converts the typed status into the stored column value.
func statusString(s *Status) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := string(*s)
	return &v
}

// cleanStrings trims members and drops blanks.
func cleanStrings(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func strPtr(s string) *string { return &s }

func int64Ptr(v int64) *int64 { return &v }

// nonEmpty returns nil for nil or blank strings.
func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}
