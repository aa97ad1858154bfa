package reforms

import (
	"context"
	"time"
)

// Store is the persistence boundary of the engine. PGStore backs it with
// PostgreSQL; MemStore keeps everything in memory with the same uniqueness
// rules and is used for dry runs and tests.
//
// Calls that can hit a reform identity index (InsertReforms, UpdateReform)
// are atomic: on a violation nothing is written and the returned error
// satisfies errors.Is(err, ErrIdentityConflict). Any surrounding WithTx stays
// usable afterwards.
type Store interface {
	// WithTx runs fn in a transaction. Nested calls use savepoints.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	UpsertPlaces(ctx context.Context, places []Place) ([]UpsertResult, error)
	UpsertPolicyDocuments(ctx context.Context, docs []PolicyDocument) ([]UpsertResult, error)
	GetPolicyDocument(ctx context.Context, id int64) (*PolicyDocument, error)
	SetPolicyDocumentEnrichment(ctx context.Context, id int64, u DocumentEnrichment) error
	PlacesMissingCoordinates(ctx context.Context, limit int) ([]Place, error)
	SetPlaceCoordinates(ctx context.Context, id int64, lat, lon float64) error

	UpsertReformTypes(ctx context.Context, types []ReformType) error
	ReformTypes(ctx context.Context) ([]ReformType, error)
	UpsertSources(ctx context.Context, sources []Source) error
	SourceByShortName(ctx context.Context, shortName string) (*Source, error)

	// KnownReferences returns the subset of refs that exists.
	KnownReferences(ctx context.Context, refs ReferenceSet) (ReferenceSet, error)

	// ReformIdentities returns the identity of every reform whose place is in
	// placeIDs or whose policy document is in documentIDs.
	ReformIdentities(ctx context.Context, placeIDs, documentIDs []int64) ([]IdentityRow, error)
	FindReformByIdentity(ctx context.Context, key IdentityKey, excludeID int64) (*Reform, error)
	GetReform(ctx context.Context, id int64) (*Reform, error)
	InsertReforms(ctx context.Context, reforms []*Reform) error
	// UpdateReform writes identity and plain columns. Enrichment columns are
	// never part of it.
	UpdateReform(ctx context.Context, r *Reform) error
	SetReformEnrichment(ctx context.Context, id int64, blob Enrichment, version string, at time.Time) error
	DeleteReform(ctx context.Context, id int64) error
	ReformsPendingEnrichment(ctx context.Context, version string, force bool, limit int) ([]int64, error)

	LinkReformTypes(ctx context.Context, links []ReformReformType) error
	ReformTypeIDs(ctx context.Context, reformID int64) ([]int64, error)
	LinkReformSources(ctx context.Context, links []ReformSource) error
	ReformSources(ctx context.Context, reformID int64) ([]ReformSource, error)
	AddReformCitations(ctx context.Context, citations []ReformCitation) error
	ReformCitations(ctx context.Context, reformID int64) ([]ReformCitation, error)

	CreateIngestion(ctx context.Context, run *DataIngestion) error
	ListIngestions(ctx context.Context, limit int) ([]DataIngestion, error)
	SaveEnrichmentRun(ctx context.Context, run *EnrichmentRun) error
	AddActivity(ctx context.Context, entry *ActivityLog) error
}

// UpsertResult reports the id of an upserted row and whether it was created.
type UpsertResult struct {
	ID       int64
	Inserted bool
}

// IdentityRow is a stored reform id with its identity key.
type IdentityRow struct {
	ID  int64
	Key IdentityKey
}

// ReferenceSet groups ids the engine needs to exist before writing.
type ReferenceSet struct {
	Places      map[int64]struct{}
	Documents   map[int64]struct{}
	ReformTypes map[int64]struct{}
}

func NewReferenceSet() ReferenceSet {
	return ReferenceSet{
		Places:      map[int64]struct{}{},
		Documents:   map[int64]struct{}{},
		ReformTypes: map[int64]struct{}{},
	}
}

// DocumentEnrichment is what the enrichment path writes on a policy document.
type DocumentEnrichment struct {
	KeyPoints []string
	Analysis  *string
	Blob      Enrichment
	Version   string
	At        time.Time
}

func idSlice(m map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}
