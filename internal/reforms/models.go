package reforms

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type PlaceKind string

const (
	PlaceState  PlaceKind = "state"
	PlaceCity   PlaceKind = "city"
	PlaceCounty PlaceKind = "county"
)

func (k PlaceKind) Valid() bool {
	switch k {
	case PlaceState, PlaceCity, PlaceCounty:
		return true
	}
	return false
}

type Status string

const (
	StatusAdopted  Status = "adopted"
	StatusFailed   Status = "failed"
	StatusProposed Status = "proposed"
)

type Place struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"not null;uniqueIndex:places_name_state_type,priority:1" json:"name"`
	StateCode   string    `gorm:"not null;uniqueIndex:places_name_state_type,priority:2" json:"state_code"`
	PlaceType   PlaceKind `gorm:"type:text;not null;uniqueIndex:places_name_state_type,priority:3" json:"place_type"`
	Population  *int64    `json:"population,omitempty"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	EncodedName *string   `json:"encoded_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type PolicyDocument struct {
	ID                  int64          `gorm:"primaryKey" json:"id"`
	StateCode           string         `gorm:"not null;uniqueIndex:policy_documents_state_ref,priority:1" json:"state_code"`
	ReferenceNumber     string         `gorm:"not null;uniqueIndex:policy_documents_state_ref,priority:2" json:"reference_number"`
	PlaceID             *int64         `json:"place_id,omitempty"`
	Title               *string        `json:"title,omitempty"`
	KeyPoints           pq.StringArray `gorm:"type:text[]" json:"key_points,omitempty"`
	Analysis            *string        `json:"analysis,omitempty"`
	DocumentURL         *string        `gorm:"column:document_url" json:"document_url,omitempty"`
	Status              *string        `json:"status,omitempty"`
	LastActionDate      *time.Time     `gorm:"type:date" json:"last_action_date,omitempty"`
	BillText            *string        `json:"-"`
	AIEnrichedFields    Enrichment     `gorm:"column:ai_enriched_fields;type:jsonb" json:"ai_enriched_fields,omitempty"`
	AIEnrichmentVersion *string        `gorm:"column:ai_enrichment_version" json:"ai_enrichment_version,omitempty"`
	AIEnrichedAt        *time.Time     `gorm:"column:ai_enriched_at" json:"ai_enriched_at,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Reform is the canonical row. Identity rules live in identity.go and the
// matching partial unique indexes are created by Migrate.
type Reform struct {
	ID                  int64          `gorm:"primaryKey" json:"id"`
	PlaceID             int64          `gorm:"not null;index" json:"place_id"`
	PolicyDocumentID    *int64         `gorm:"index" json:"policy_document_id,omitempty"`
	Status              *string        `json:"status,omitempty"`
	Scope               pq.StringArray `gorm:"type:text[]" json:"scope,omitempty"`
	LandUse             pq.StringArray `gorm:"type:text[]" json:"land_use,omitempty"`
	AdoptionDate        *time.Time     `gorm:"type:date" json:"adoption_date,omitempty"`
	Summary             *string        `json:"summary,omitempty"`
	Requirements        pq.StringArray `gorm:"type:text[]" json:"requirements,omitempty"`
	Notes               *string        `json:"notes,omitempty"`
	ReformMechanism     *string        `json:"reform_mechanism,omitempty"`
	ReformPhase         *string        `json:"reform_phase,omitempty"`
	LegislativeNumber   *string        `json:"legislative_number,omitempty"`
	LinkURL             *string        `gorm:"column:link_url" json:"link_url,omitempty"`
	AIEnrichedFields    Enrichment     `gorm:"column:ai_enriched_fields;type:jsonb" json:"ai_enriched_fields,omitempty"`
	AIEnrichmentVersion *string        `gorm:"column:ai_enrichment_version" json:"ai_enrichment_version,omitempty"`
	AIEnrichedAt        *time.Time     `gorm:"column:ai_enriched_at" json:"ai_enriched_at,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

type ReformType struct {
	ID          int64  `gorm:"primaryKey" json:"id"`
	Code        string `gorm:"uniqueIndex;not null" json:"code" yaml:"code"`
	Name        string `gorm:"not null" json:"name" yaml:"name"`
	Category    string `json:"category" yaml:"category"`
	Description string `json:"description,omitempty" yaml:"description"`
}

type ReformReformType struct {
	ReformID     int64 `gorm:"primaryKey;autoIncrement:false" json:"reform_id"`
	ReformTypeID int64 `gorm:"primaryKey;autoIncrement:false" json:"reform_type_id"`
}

type Source struct {
	ID           int64   `gorm:"primaryKey" json:"id"`
	Name         string  `gorm:"not null" json:"name" yaml:"name"`
	ShortName    string  `gorm:"uniqueIndex;not null" json:"short_name" yaml:"short_name"`
	Description  *string `json:"description,omitempty" yaml:"description"`
	WebsiteURL   *string `gorm:"column:website_url" json:"website_url,omitempty" yaml:"website_url"`
	LogoFilename *string `json:"logo_filename,omitempty" yaml:"logo_filename"`
}

type ReformSource struct {
	ReformID  int64     `gorm:"primaryKey;autoIncrement:false" json:"reform_id"`
	SourceID  int64     `gorm:"primaryKey;autoIncrement:false" json:"source_id"`
	Reporter  *string   `json:"reporter,omitempty"`
	SourceURL *string   `gorm:"column:source_url" json:"source_url,omitempty"`
	Notes     *string   `json:"notes,omitempty"`
	IsPrimary bool      `gorm:"not null" json:"is_primary"`
	CreatedAt time.Time `json:"created_at"`
}

type ReformCitation struct {
	ID                  int64     `gorm:"primaryKey" json:"id"`
	ReformID            int64     `gorm:"not null;index" json:"reform_id"`
	CitationDescription *string   `json:"citation_description,omitempty"`
	CitationURL         *string   `gorm:"column:citation_url" json:"citation_url,omitempty"`
	CitationNotes       *string   `json:"citation_notes,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// DataIngestion is one row per ingestion batch.
type DataIngestion struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SourceName       string    `gorm:"not null" json:"source_name"`
	SourceURL        *string   `gorm:"column:source_url" json:"source_url,omitempty"`
	RecordsProcessed int       `json:"records_processed"`
	PlacesCreated    int       `json:"places_created"`
	PlacesUpdated    int       `json:"places_updated"`
	ReformsCreated   int       `json:"reforms_created"`
	ReformsUpdated   int       `json:"reforms_updated"`
	RecordsFailed    int       `json:"records_failed"`
	Status           string    `gorm:"not null" json:"status"`
	ErrorMessage     *string   `json:"error_message,omitempty"`
	DurationSeconds  float64   `json:"duration_seconds"`
	CreatedAt        time.Time `json:"created_at"`
}

func (DataIngestion) TableName() string { return "data_ingestion" }

type EnrichmentRun struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	EnrichmentVersion  string     `gorm:"not null" json:"enrichment_version"`
	AIProvider         string     `gorm:"column:ai_provider" json:"ai_provider"`
	AIModel            string     `gorm:"column:ai_model" json:"ai_model"`
	Status             string     `gorm:"not null" json:"status"`
	ReformsProcessed   int        `json:"reforms_processed"`
	ReformsEnriched    int        `json:"reforms_enriched"`
	ReformsFailed      int        `json:"reforms_failed"`
	ReformsMerged      int        `json:"reforms_merged"`
	PolicyDocsEnriched int        `json:"policy_docs_enriched"`
	ErrorMessage       *string    `json:"error_message,omitempty"`
	StartedAt          time.Time  `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

func (EnrichmentRun) TableName() string { return "ai_enrichment_runs" }

type ActivityLog struct {
	ID              int64      `gorm:"primaryKey" json:"id"`
	LogType         string     `gorm:"not null;index" json:"log_type"`
	Action          string     `gorm:"not null" json:"action"`
	Status          string     `gorm:"not null" json:"status"`
	Metadata        Enrichment `gorm:"type:jsonb" json:"metadata,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Enrichment is a JSON object stored in a jsonb column. A nil map is NULL.
type Enrichment map[string]any

func (e Enrichment) Value() (driver.Value, error) {
	if e == nil {
		return nil, nil
	}
	b, err := json.Marshal(map[string]any(e))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (e *Enrichment) Scan(value interface{}) error {
	if value == nil {
		*e = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported type: %T", value)
	}
	if len(raw) == 0 || string(raw) == "null" {
		*e = nil
		return nil
	}
	m := map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*e = m
	return nil
}

// Fields returns the per-field enrichment entries, or nil.
func (e Enrichment) Fields() map[string]any {
	f, _ := e["fields"].(map[string]any)
	return f
}

// Clone returns a deep enough copy for merging: the top level and the
// fields map are copied, leaf values are shared.
func (e Enrichment) Clone() Enrichment {
	if e == nil {
		return nil
	}
	out := make(Enrichment, len(e))
	for k, v := range e {
		out[k] = v
	}
	if f := e.Fields(); f != nil {
		cp := make(map[string]any, len(f))
		for k, v := range f {
			cp[k] = v
		}
		out["fields"] = cp
	}
	return out
}
