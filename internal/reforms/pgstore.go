package reforms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PGStore implements Store on PostgreSQL through gorm.
type PGStore struct {
	db *gorm.DB
}

func NewPGStore(db *gorm.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PGStore{db: tx})
	})
}

const upsertPlacesSQL = `
INSERT INTO places (name, state_code, place_type, population, latitude, longitude, encoded_name, created_at, updated_at)
VALUES %s
ON CONFLICT (name, state_code, place_type) DO UPDATE SET
	population   = COALESCE(EXCLUDED.population, places.population),
	latitude     = COALESCE(EXCLUDED.latitude, places.latitude),
	longitude    = COALESCE(EXCLUDED.longitude, places.longitude),
	encoded_name = COALESCE(EXCLUDED.encoded_name, places.encoded_name),
	updated_at   = NOW()
RETURNING id, name, state_code, place_type, (xmax = 0) AS inserted`

type upsertedPlaceRow struct {
	ID        int64
	Name      string
	StateCode string
	PlaceType PlaceKind
	Inserted  bool
}

// UpsertPlaces expects places to be free of duplicate natural keys; ON
// CONFLICT DO UPDATE cannot touch the same row twice in one statement.
func (s *PGStore) UpsertPlaces(ctx context.Context, places []Place) ([]UpsertResult, error) {
	if len(places) == 0 {
		return nil, nil
	}
	values := make([]string, 0, len(places))
	args := make([]any, 0, len(places)*7)
	for _, p := range places {
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, NOW(), NOW())")
		args = append(args, p.Name, p.StateCode, string(p.PlaceType), p.Population, p.Latitude, p.Longitude, p.EncodedName)
	}

	var rows []upsertedPlaceRow
	q := fmt.Sprintf(upsertPlacesSQL, strings.Join(values, ", "))
	if err := s.db.WithContext(ctx).Raw(q, args...).Scan(&rows).Error; err != nil {
		return nil, storeErr("upsert places", err)
	}

	byKey := make(map[PlaceKey]upsertedPlaceRow, len(rows))
	for _, r := range rows {
		byKey[PlaceKey{StateCode: r.StateCode, Name: r.Name, Kind: r.PlaceType}] = r
	}
	out := make([]UpsertResult, 0, len(places))
	for _, p := range places {
		r, ok := byKey[PlaceKey{StateCode: p.StateCode, Name: p.Name, Kind: p.PlaceType}]
		if !ok {
			return nil, storeErr("upsert places", fmt.Errorf("no row returned for %s/%s", p.StateCode, p.Name))
		}
		out = append(out, UpsertResult{ID: r.ID, Inserted: r.Inserted})
	}
	return out, nil
}

const upsertDocumentsSQL = `
INSERT INTO policy_documents (state_code, reference_number, place_id, title, key_points, analysis,
	document_url, status, last_action_date, bill_text, created_at, updated_at)
VALUES %s
ON CONFLICT (state_code, reference_number) DO UPDATE SET
	place_id         = COALESCE(EXCLUDED.place_id, policy_documents.place_id),
	title            = COALESCE(EXCLUDED.title, policy_documents.title),
	key_points       = COALESCE(NULLIF(EXCLUDED.key_points, '{}'), policy_documents.key_points),
	analysis         = COALESCE(EXCLUDED.analysis, policy_documents.analysis),
	document_url     = COALESCE(EXCLUDED.document_url, policy_documents.document_url),
	status           = COALESCE(EXCLUDED.status, policy_documents.status),
	last_action_date = COALESCE(EXCLUDED.last_action_date, policy_documents.last_action_date),
	bill_text        = COALESCE(EXCLUDED.bill_text, policy_documents.bill_text),
	updated_at       = NOW()
RETURNING id, state_code, reference_number, (xmax = 0) AS inserted`

type upsertedDocumentRow struct {
	ID              int64
	StateCode       string
	ReferenceNumber string
	Inserted        bool
}

func (s *PGStore) UpsertPolicyDocuments(ctx context.Context, docs []PolicyDocument) ([]UpsertResult, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	values := make([]string, 0, len(docs))
	args := make([]any, 0, len(docs)*10)
	for _, d := range docs {
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())")
		args = append(args, d.StateCode, d.ReferenceNumber, d.PlaceID, d.Title, d.KeyPoints,
			d.Analysis, d.DocumentURL, d.Status, d.LastActionDate, d.BillText)
	}

	var rows []upsertedDocumentRow
	q := fmt.Sprintf(upsertDocumentsSQL, strings.Join(values, ", "))
	if err := s.db.WithContext(ctx).Raw(q, args...).Scan(&rows).Error; err != nil {
		return nil, storeErr("upsert policy documents", err)
	}

	byKey := make(map[DocumentKey]upsertedDocumentRow, len(rows))
	for _, r := range rows {
		byKey[DocumentKey{StateCode: r.StateCode, ReferenceNumber: r.ReferenceNumber}] = r
	}
	out := make([]UpsertResult, 0, len(docs))
	for _, d := range docs {
		r, ok := byKey[DocumentKey{StateCode: d.StateCode, ReferenceNumber: d.ReferenceNumber}]
		if !ok {
			return nil, storeErr("upsert policy documents", fmt.Errorf("no row returned for %s %s", d.StateCode, d.ReferenceNumber))
		}
		out = append(out, UpsertResult{ID: r.ID, Inserted: r.Inserted})
	}
	return out, nil
}

func (s *PGStore) GetPolicyDocument(ctx context.Context, id int64) (*PolicyDocument, error) {
	var d PolicyDocument
	err := s.db.WithContext(ctx).First(&d, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("policy document %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("get policy document", err)
	}
	return &d, nil
}

func (s *PGStore) SetPolicyDocumentEnrichment(ctx context.Context, id int64, u DocumentEnrichment) error {
	updates := map[string]any{
		"ai_enriched_fields":    u.Blob,
		"ai_enrichment_version": u.Version,
		"ai_enriched_at":        u.At,
		"updated_at":            time.Now(),
	}
	if len(u.KeyPoints) > 0 {
		updates["key_points"] = pq.StringArray(u.KeyPoints)
	}
	if u.Analysis != nil {
		updates["analysis"] = *u.Analysis
	}
	res := s.db.WithContext(ctx).Model(&PolicyDocument{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return storeErr("enrich policy document", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("policy document %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PGStore) PlacesMissingCoordinates(ctx context.Context, limit int) ([]Place, error) {
	var places []Place
	q := s.db.WithContext(ctx).
		Where("latitude IS NULL AND longitude IS NULL AND state_code <> ''").
		Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&places).Error; err != nil {
		return nil, storeErr("places missing coordinates", err)
	}
	return places, nil
}

func (s *PGStore) SetPlaceCoordinates(ctx context.Context, id int64, lat, lon float64) error {
	res := s.db.WithContext(ctx).Model(&Place{}).Where("id = ?", id).Updates(map[string]any{
		"latitude":   lat,
		"longitude":  lon,
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		return storeErr("set place coordinates", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("place %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PGStore) UpsertReformTypes(ctx context.Context, types []ReformType) error {
	if len(types) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "category", "description"}),
	}).Create(&types).Error
	return storeErr("upsert reform types", err)
}

func (s *PGStore) ReformTypes(ctx context.Context) ([]ReformType, error) {
	var types []ReformType
	if err := s.db.WithContext(ctx).Order("id").Find(&types).Error; err != nil {
		return nil, storeErr("list reform types", err)
	}
	return types, nil
}

func (s *PGStore) UpsertSources(ctx context.Context, sources []Source) error {
	if len(sources) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "short_name"}},
		DoUpdates: clause.Assignments(map[string]any{
			"name":          gorm.Expr("EXCLUDED.name"),
			"description":   gorm.Expr("COALESCE(EXCLUDED.description, sources.description)"),
			"website_url":   gorm.Expr("COALESCE(EXCLUDED.website_url, sources.website_url)"),
			"logo_filename": gorm.Expr("COALESCE(EXCLUDED.logo_filename, sources.logo_filename)"),
		}),
	}).Create(&sources).Error
	return storeErr("upsert sources", err)
}

func (s *PGStore) SourceByShortName(ctx context.Context, shortName string) (*Source, error) {
	var src Source
	err := s.db.WithContext(ctx).Where("short_name = ?", shortName).First(&src).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &ReferenceError{Kind: "source", Key: shortName}
	}
	if err != nil {
		return nil, storeErr("find source", err)
	}
	return &src, nil
}

const knownReferencesSQL = `
SELECT 'place' AS kind, id FROM places WHERE id IN ?
UNION ALL
SELECT 'document', id FROM policy_documents WHERE id IN ?
UNION ALL
SELECT 'type', id FROM reform_types WHERE id IN ?`

func (s *PGStore) KnownReferences(ctx context.Context, refs ReferenceSet) (ReferenceSet, error) {
	var rows []struct {
		Kind string
		ID   int64
	}
	err := s.db.WithContext(ctx).Raw(knownReferencesSQL,
		idSlice(refs.Places), idSlice(refs.Documents), idSlice(refs.ReformTypes)).Scan(&rows).Error
	if err != nil {
		return ReferenceSet{}, storeErr("resolve references", err)
	}
	out := NewReferenceSet()
	for _, r := range rows {
		switch r.Kind {
		case "place":
			out.Places[r.ID] = struct{}{}
		case "document":
			out.Documents[r.ID] = struct{}{}
		case "type":
			out.ReformTypes[r.ID] = struct{}{}
		}
	}
	return out, nil
}

var reformIdentitiesSQL = `
SELECT id, place_id, COALESCE(policy_document_id, 0) AS document_id,
	to_char(` + identityDateExpr + `, 'YYYY-MM-DD') AS date_key,
	` + identityStatusExpr + ` AS status_key
FROM reforms
WHERE place_id IN ? OR policy_document_id IN ?
ORDER BY id`

type identityScanRow struct {
	ID         int64
	PlaceID    int64
	DocumentID int64
	DateKey    string
	StatusKey  string
}

func (r identityScanRow) key() IdentityKey {
	if r.DocumentID != 0 {
		return IdentityKey{PlaceID: r.PlaceID, DocumentID: r.DocumentID}
	}
	return IdentityKey{PlaceID: r.PlaceID, Date: r.DateKey, Status: r.StatusKey}
}

func (s *PGStore) ReformIdentities(ctx context.Context, placeIDs, documentIDs []int64) ([]IdentityRow, error) {
	if len(placeIDs) == 0 && len(documentIDs) == 0 {
		return nil, nil
	}
	var rows []identityScanRow
	if err := s.db.WithContext(ctx).Raw(reformIdentitiesSQL, placeIDs, documentIDs).Scan(&rows).Error; err != nil {
		return nil, storeErr("load reform identities", err)
	}
	out := make([]IdentityRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, IdentityRow{ID: r.ID, Key: r.key()})
	}
	return out, nil
}

func (s *PGStore) FindReformByIdentity(ctx context.Context, key IdentityKey, excludeID int64) (*Reform, error) {
	q := s.db.WithContext(ctx).Where("place_id = ? AND id <> ?", key.PlaceID, excludeID)
	if key.HasDocument() {
		q = q.Where("policy_document_id = ?", key.DocumentID)
	} else {
		q = q.Where("policy_document_id IS NULL").
			Where(identityDateExpr+" = CAST(? AS date)", key.Date).
			Where(identityStatusExpr+" = ?", key.Status)
	}

	var r Reform
	err := q.Order("id").First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("find reform by identity", err)
	}
	return &r, nil
}

func (s *PGStore) GetReform(ctx context.Context, id int64) (*Reform, error) {
	var r Reform
	err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("reform %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("get reform", err)
	}
	return &r, nil
}

// InsertReforms writes all rows in one multi-row INSERT inside a savepoint.
func (s *PGStore) InsertReforms(ctx context.Context, reforms []*Reform) error {
	if len(reforms) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&reforms).Error
	})
	return reformWriteErr("insert reforms", err)
}

func (s *PGStore) UpdateReform(ctx context.Context, r *Reform) error {
	now := time.Now()
	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Reform{}).Where("id = ?", r.ID).Updates(map[string]any{
			"place_id":           r.PlaceID,
			"policy_document_id": r.PolicyDocumentID,
			"status":             r.Status,
			"scope":              r.Scope,
			"land_use":           r.LandUse,
			"adoption_date":      r.AdoptionDate,
			"summary":            r.Summary,
			"requirements":       r.Requirements,
			"notes":              r.Notes,
			"reform_mechanism":   r.ReformMechanism,
			"reform_phase":       r.ReformPhase,
			"legislative_number": r.LegislativeNumber,
			"link_url":           r.LinkURL,
			"updated_at":         now,
		})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return reformWriteErr("update reform", err)
	}
	if affected == 0 {
		return fmt.Errorf("reform %d: %w", r.ID, ErrNotFound)
	}
	r.UpdatedAt = now
	return nil
}

func (s *PGStore) SetReformEnrichment(ctx context.Context, id int64, blob Enrichment, version string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&Reform{}).Where("id = ?", id).Updates(map[string]any{
		"ai_enriched_fields":    blob,
		"ai_enrichment_version": version,
		"ai_enriched_at":        at,
		"updated_at":            time.Now(),
	})
	if res.Error != nil {
		return storeErr("set reform enrichment", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("reform %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteReform removes the row; link tables cascade.
func (s *PGStore) DeleteReform(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&Reform{}, id)
	if res.Error != nil {
		return storeErr("delete reform", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("reform %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PGStore) ReformsPendingEnrichment(ctx context.Context, version string, force bool, limit int) ([]int64, error) {
	q := s.db.WithContext(ctx).
		Table("reforms AS r").
		Select("r.id").
		Joins("JOIN policy_documents pd ON pd.id = r.policy_document_id").
		Where("pd.bill_text IS NOT NULL AND btrim(pd.bill_text) <> ''")
	if !force {
		q = q.Where("r.ai_enrichment_version IS NULL OR r.ai_enrichment_version < ?", version)
	}
	q = q.Order("r.id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ids []int64
	if err := q.Pluck("r.id", &ids).Error; err != nil {
		return nil, storeErr("reforms pending enrichment", err)
	}
	return ids, nil
}

func (s *PGStore) LinkReformTypes(ctx context.Context, links []ReformReformType) error {
	if len(links) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error
	return storeErr("link reform types", err)
}

func (s *PGStore) ReformTypeIDs(ctx context.Context, reformID int64) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&ReformReformType{}).
		Where("reform_id = ?", reformID).Order("reform_type_id").
		Pluck("reform_type_id", &ids).Error
	if err != nil {
		return nil, storeErr("list reform types", err)
	}
	return ids, nil
}

func (s *PGStore) LinkReformSources(ctx context.Context, links []ReformSource) error {
	if len(links) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "reform_id"}, {Name: "source_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"reporter":   gorm.Expr("COALESCE(EXCLUDED.reporter, reform_sources.reporter)"),
			"source_url": gorm.Expr("COALESCE(EXCLUDED.source_url, reform_sources.source_url)"),
			"notes":      gorm.Expr("COALESCE(EXCLUDED.notes, reform_sources.notes)"),
			"is_primary": gorm.Expr("EXCLUDED.is_primary"),
		}),
	}).Create(&links).Error
	return storeErr("link reform sources", err)
}

func (s *PGStore) ReformSources(ctx context.Context, reformID int64) ([]ReformSource, error) {
	var out []ReformSource
	err := s.db.WithContext(ctx).Where("reform_id = ?", reformID).Order("source_id").Find(&out).Error
	if err != nil {
		return nil, storeErr("list reform sources", err)
	}
	return out, nil
}

// AddReformCitations relies on reform_citations_unique to skip duplicates.
func (s *PGStore) AddReformCitations(ctx context.Context, citations []ReformCitation) error {
	if len(citations) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&citations).Error
	return storeErr("add reform citations", err)
}

func (s *PGStore) ReformCitations(ctx context.Context, reformID int64) ([]ReformCitation, error) {
	var out []ReformCitation
	err := s.db.WithContext(ctx).Where("reform_id = ?", reformID).Order("id").Find(&out).Error
	if err != nil {
		return nil, storeErr("list reform citations", err)
	}
	return out, nil
}

func (s *PGStore) CreateIngestion(ctx context.Context, run *DataIngestion) error {
	return storeErr("log ingestion", s.db.WithContext(ctx).Create(run).Error)
}

func (s *PGStore) ListIngestions(ctx context.Context, limit int) ([]DataIngestion, error) {
	var out []DataIngestion
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, storeErr("list ingestions", err)
	}
	return out, nil
}

func (s *PGStore) SaveEnrichmentRun(ctx context.Context, run *EnrichmentRun) error {
	return storeErr("save enrichment run", s.db.WithContext(ctx).Save(run).Error)
}

func (s *PGStore) AddActivity(ctx context.Context, entry *ActivityLog) error {
	return storeErr("add activity", s.db.WithContext(ctx).Create(entry).Error)
}

// uniqueViolation reports the constraint name of a PostgreSQL 23505 error.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// reformWriteErr turns identity index violations into ConflictError.
func reformWriteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if name, ok := uniqueViolation(err); ok &&
		(name == constraintUniqueNormalized || name == constraintUniqueDocument) {
		return &ConflictError{Constraint: name, Err: err}
	}
	return storeErr(op, err)
}
