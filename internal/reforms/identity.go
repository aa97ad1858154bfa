package reforms

import (
	"fmt"
	"time"
)

// Comparison sentinels for NULL identity columns. They are never stored.
const (
	nullDateKey   = "1900-01-01"
	nullStatusKey = ""
)

// SQL forms of the same normalization. The unique indexes and the lookup
// queries are both built from these, so Go and the database agree on identity.
const (
	identityDateExpr   = "COALESCE(adoption_date, DATE '" + nullDateKey + "')"
	identityStatusExpr = "COALESCE(status, '" + nullStatusKey + "')"

	constraintUniqueDocument   = "reforms_unique_document"
	constraintUniqueNormalized = "reforms_unique_normalized"
)

// IdentityKey decides whether two reform records describe the same reform.
// DocumentID is zero when the reform has no policy document, in which case
// Date and Status carry the normalized values.
type IdentityKey struct {
	PlaceID    int64
	DocumentID int64
	Date       string
	Status     string
}

func (k IdentityKey) String() string {
	if k.DocumentID != 0 {
		return fmt.Sprintf("place=%d doc=%d", k.PlaceID, k.DocumentID)
	}
	return fmt.Sprintf("place=%d date=%s status=%q", k.PlaceID, k.Date, k.Status)
}

// HasDocument reports whether the key is document-based.
func (k IdentityKey) HasDocument() bool { return k.DocumentID != 0 }

// IdentityKeyOf builds the identity key from raw identity fields.
func IdentityKeyOf(placeID int64, documentID *int64, adoptionDate *time.Time, status *string) IdentityKey {
	if documentID != nil && *documentID != 0 {
		return IdentityKey{PlaceID: placeID, DocumentID: *documentID}
	}
	return IdentityKey{
		PlaceID: placeID,
		Date:    dateKey(adoptionDate),
		Status:  statusKey(status),
	}
}

// Key returns the identity key of a stored reform.
func (r *Reform) Key() IdentityKey {
	return IdentityKeyOf(r.PlaceID, r.PolicyDocumentID, r.AdoptionDate, r.Status)
}

// Key returns the identity key of an incoming record.
func (r *ReformRecord) Key() IdentityKey {
	return IdentityKeyOf(r.PlaceID, r.PolicyDocumentID, r.AdoptionDate, statusString(r.Status))
}

func dateKey(d *time.Time) string {
	if d == nil {
		return nullDateKey
	}
	return d.UTC().Format(dateLayout)
}

func statusKey(s *string) string {
	if s == nil {
		return nullStatusKey
	}
	return *s
}

// identityIndexDDL creates the two partial unique indexes backing IdentityKey.
var identityIndexDDL = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + constraintUniqueDocument +
		` ON reforms (place_id, policy_document_id) WHERE policy_document_id IS NOT NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + constraintUniqueNormalized +
		` ON reforms (place_id, ` + identityDateExpr + `, ` + identityStatusExpr + `) WHERE policy_document_id IS NULL`,
}
