package reforms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store. Transactions snapshot the whole state and
// restore it when fn fails.
type MemStore struct {
	mu   sync.Mutex
	data *memData
	now  func() time.Time
}

type linkKey struct{ a, b int64 }

type memData struct {
	seq           map[string]int64
	places        map[int64]*Place
	docs          map[int64]*PolicyDocument
	reforms       map[int64]*Reform
	types         map[int64]*ReformType
	sources       map[int64]*Source
	reformTypes   map[linkKey]struct{}
	reformSources map[linkKey]*ReformSource
	citations     []*ReformCitation
	ingestions    []DataIngestion
	runs          map[uuid.UUID]EnrichmentRun
	activity      []ActivityLog
}

func NewMemStore() *MemStore {
	return &MemStore{
		data: &memData{
			seq:           map[string]int64{},
			places:        map[int64]*Place{},
			docs:          map[int64]*PolicyDocument{},
			reforms:       map[int64]*Reform{},
			types:         map[int64]*ReformType{},
			sources:       map[int64]*Source{},
			reformTypes:   map[linkKey]struct{}{},
			reformSources: map[linkKey]*ReformSource{},
			runs:          map[uuid.UUID]EnrichmentRun{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (d *memData) nextID(table string) int64 {
	d.seq[table]++
	return d.seq[table]
}

// SetNextID makes the next id allocated for table equal to id. Tests use it to
// build fixtures with known ids.
func (s *MemStore) SetNextID(table string, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.seq[table] = id - 1
}

func (d *memData) clone() *memData {
	out := &memData{
		seq:           make(map[string]int64, len(d.seq)),
		places:        make(map[int64]*Place, len(d.places)),
		docs:          make(map[int64]*PolicyDocument, len(d.docs)),
		reforms:       make(map[int64]*Reform, len(d.reforms)),
		types:         make(map[int64]*ReformType, len(d.types)),
		sources:       make(map[int64]*Source, len(d.sources)),
		reformTypes:   make(map[linkKey]struct{}, len(d.reformTypes)),
		reformSources: make(map[linkKey]*ReformSource, len(d.reformSources)),
		citations:     make([]*ReformCitation, 0, len(d.citations)),
		ingestions:    append([]DataIngestion(nil), d.ingestions...),
		runs:          make(map[uuid.UUID]EnrichmentRun, len(d.runs)),
		activity:      append([]ActivityLog(nil), d.activity...),
	}
	for k, v := range d.seq {
		out.seq[k] = v
	}
	for id, p := range d.places {
		cp := *p
		out.places[id] = &cp
	}
	for id, doc := range d.docs {
		out.docs[id] = copyDocument(doc)
	}
	for id, r := range d.reforms {
		out.reforms[id] = copyReform(r)
	}
	for id, t := range d.types {
		cp := *t
		out.types[id] = &cp
	}
	for id, src := range d.sources {
		cp := *src
		out.sources[id] = &cp
	}
	for k := range d.reformTypes {
		out.reformTypes[k] = struct{}{}
	}
	for k, v := range d.reformSources {
		cp := *v
		out.reformSources[k] = &cp
	}
	for _, c := range d.citations {
		cp := *c
		out.citations = append(out.citations, &cp)
	}
	for k, v := range d.runs {
		out.runs[k] = v
	}
	return out
}

func copyReform(r *Reform) *Reform {
	cp := *r
	cp.Scope = append([]string(nil), r.Scope...)
	cp.LandUse = append([]string(nil), r.LandUse...)
	cp.Requirements = append([]string(nil), r.Requirements...)
	cp.AIEnrichedFields = r.AIEnrichedFields.Clone()
	return &cp
}

func copyDocument(d *PolicyDocument) *PolicyDocument {
	cp := *d
	cp.KeyPoints = append([]string(nil), d.KeyPoints...)
	cp.AIEnrichedFields = d.AIEnrichedFields.Clone()
	return &cp
}

func (s *MemStore) WithTx(ctx context.Context, fn func(tx Store) error) (err error) {
	s.mu.Lock()
	snap := s.data.clone()
	s.mu.Unlock()

	restore := func() {
		s.mu.Lock()
		s.data = snap
		s.mu.Unlock()
	}
	defer func() {
		if p := recover(); p != nil {
			restore()
			panic(p)
		}
	}()

	if err = ctx.Err(); err != nil {
		return err
	}
	if err = fn(s); err != nil {
		restore()
	}
	return err
}

func (s *MemStore) UpsertPlaces(ctx context.Context, places []Place) ([]UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]UpsertResult, 0, len(places))
	for _, in := range places {
		var existing *Place
		for _, p := range s.data.places {
			if p.Name == in.Name && p.StateCode == in.StateCode && p.PlaceType == in.PlaceType {
				existing = p
				break
			}
		}
		if existing == nil {
			p := in
			p.ID = s.data.nextID("places")
			p.CreatedAt, p.UpdatedAt = s.now(), s.now()
			s.data.places[p.ID] = &p
			out = append(out, UpsertResult{ID: p.ID, Inserted: true})
			continue
		}
		existing.Population = coalesce(in.Population, existing.Population)
		existing.Latitude = coalesce(in.Latitude, existing.Latitude)
		existing.Longitude = coalesce(in.Longitude, existing.Longitude)
		existing.EncodedName = coalesce(in.EncodedName, existing.EncodedName)
		existing.UpdatedAt = s.now()
		out = append(out, UpsertResult{ID: existing.ID})
	}
	return out, nil
}

func (s *MemStore) UpsertPolicyDocuments(ctx context.Context, docs []PolicyDocument) ([]UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]UpsertResult, 0, len(docs))
	for _, in := range docs {
		var existing *PolicyDocument
		for _, d := range s.data.docs {
			if d.StateCode == in.StateCode && d.ReferenceNumber == in.ReferenceNumber {
				existing = d
				break
			}
		}
		if existing == nil {
			d := copyDocument(&in)
			d.ID = s.data.nextID("policy_documents")
			d.CreatedAt, d.UpdatedAt = s.now(), s.now()
			s.data.docs[d.ID] = d
			out = append(out, UpsertResult{ID: d.ID, Inserted: true})
			continue
		}
		existing.Title = coalesce(in.Title, existing.Title)
		if len(in.KeyPoints) > 0 {
			existing.KeyPoints = append([]string(nil), in.KeyPoints...)
		}
		existing.Analysis = coalesce(in.Analysis, existing.Analysis)
		existing.DocumentURL = coalesce(in.DocumentURL, existing.DocumentURL)
		existing.Status = coalesce(in.Status, existing.Status)
		existing.LastActionDate = coalesce(in.LastActionDate, existing.LastActionDate)
		existing.PlaceID = coalesce(in.PlaceID, existing.PlaceID)
		existing.BillText = coalesce(in.BillText, existing.BillText)
		existing.UpdatedAt = s.now()
		out = append(out, UpsertResult{ID: existing.ID})
	}
	return out, nil
}

func (s *MemStore) GetPolicyDocument(ctx context.Context, id int64) (*PolicyDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data.docs[id]
	if !ok {
		return nil, fmt.Errorf("policy document %d: %w", id, ErrNotFound)
	}
	return copyDocument(d), nil
}

func (s *MemStore) SetPolicyDocumentEnrichment(ctx context.Context, id int64, u DocumentEnrichment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data.docs[id]
	if !ok {
		return fmt.Errorf("policy document %d: %w", id, ErrNotFound)
	}
	if len(u.KeyPoints) > 0 {
		d.KeyPoints = append([]string(nil), u.KeyPoints...)
	}
	d.Analysis = coalesce(u.Analysis, d.Analysis)
	d.AIEnrichedFields = u.Blob.Clone()
	d.AIEnrichmentVersion = strPtr(u.Version)
	at := u.At
	d.AIEnrichedAt = &at
	d.UpdatedAt = s.now()
	return nil
}

func (s *MemStore) PlacesMissingCoordinates(ctx context.Context, limit int) ([]Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Place
	for _, p := range s.data.places {
		if p.Latitude == nil && p.Longitude == nil && p.StateCode != "" {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) SetPlaceCoordinates(ctx context.Context, id int64, lat, lon float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data.places[id]
	if !ok {
		return fmt.Errorf("place %d: %w", id, ErrNotFound)
	}
	p.Latitude, p.Longitude = &lat, &lon
	p.UpdatedAt = s.now()
	return nil
}

func (s *MemStore) UpsertReformTypes(ctx context.Context, types []ReformType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range types {
		var existing *ReformType
		for _, t := range s.data.types {
			if t.Code == in.Code {
				existing = t
				break
			}
		}
		if existing != nil {
			existing.Name, existing.Category, existing.Description = in.Name, in.Category, in.Description
			continue
		}
		t := in
		if t.ID == 0 {
			t.ID = s.data.nextID("reform_types")
		} else if t.ID > s.data.seq["reform_types"] {
			s.data.seq["reform_types"] = t.ID
		}
		s.data.types[t.ID] = &t
	}
	return nil
}

func (s *MemStore) ReformTypes(ctx context.Context) ([]ReformType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ReformType, 0, len(s.data.types))
	for _, t := range s.data.types {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) UpsertSources(ctx context.Context, sources []Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range sources {
		var existing *Source
		for _, src := range s.data.sources {
			if src.ShortName == in.ShortName {
				existing = src
				break
			}
		}
		if existing != nil {
			existing.Name = in.Name
			existing.Description = coalesce(in.Description, existing.Description)
			existing.WebsiteURL = coalesce(in.WebsiteURL, existing.WebsiteURL)
			existing.LogoFilename = coalesce(in.LogoFilename, existing.LogoFilename)
			continue
		}
		src := in
		src.ID = s.data.nextID("sources")
		s.data.sources[src.ID] = &src
	}
	return nil
}

func (s *MemStore) SourceByShortName(ctx context.Context, shortName string) (*Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range s.data.sources {
		if src.ShortName == shortName {
			cp := *src
			return &cp, nil
		}
	}
	return nil, &ReferenceError{Kind: "source", Key: shortName}
}

func (s *MemStore) KnownReferences(ctx context.Context, refs ReferenceSet) (ReferenceSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := NewReferenceSet()
	for id := range refs.Places {
		if _, ok := s.data.places[id]; ok {
			out.Places[id] = struct{}{}
		}
	}
	for id := range refs.Documents {
		if _, ok := s.data.docs[id]; ok {
			out.Documents[id] = struct{}{}
		}
	}
	for id := range refs.ReformTypes {
		if _, ok := s.data.types[id]; ok {
			out.ReformTypes[id] = struct{}{}
		}
	}
	return out, nil
}

func (s *MemStore) ReformIdentities(ctx context.Context, placeIDs, documentIDs []int64) ([]IdentityRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	places := toSet(placeIDs)
	docs := toSet(documentIDs)
	var out []IdentityRow
	for _, r := range s.data.reforms {
		_, inPlace := places[r.PlaceID]
		inDoc := false
		if r.PolicyDocumentID != nil {
			_, inDoc = docs[*r.PolicyDocumentID]
		}
		if inPlace || inDoc {
			out = append(out, IdentityRow{ID: r.ID, Key: r.Key()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) FindReformByIdentity(ctx context.Context, key IdentityKey, excludeID int64) (*Reform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, r := range s.data.reforms {
		if id != excludeID && r.Key() == key {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return copyReform(s.data.reforms[ids[0]]), nil
}

func (s *MemStore) GetReform(ctx context.Context, id int64) (*Reform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data.reforms[id]
	if !ok {
		return nil, fmt.Errorf("reform %d: %w", id, ErrNotFound)
	}
	return copyReform(r), nil
}

// conflictFor returns the index a reform with key would violate, ignoring
// the rows in skip.
func (s *MemStore) conflictFor(key IdentityKey, skip map[int64]struct{}) error {
	for id, r := range s.data.reforms {
		if _, ok := skip[id]; ok {
			continue
		}
		if r.Key() == key {
			return memConflict(key)
		}
	}
	return nil
}

func memConflict(key IdentityKey) error {
	name := constraintUniqueNormalized
	if key.HasDocument() {
		name = constraintUniqueDocument
	}
	return &ConflictError{
		Constraint: name,
		Err:        fmt.Errorf("duplicate key value violates unique constraint %q (%s)", name, key),
	}
}

func (s *MemStore) InsertReforms(ctx context.Context, reforms []*Reform) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[IdentityKey]struct{}{}
	for _, r := range reforms {
		if err := s.checkReferences(r); err != nil {
			return err
		}
		k := r.Key()
		if _, dup := seen[k]; dup {
			return memConflict(k)
		}
		seen[k] = struct{}{}
		if err := s.conflictFor(k, nil); err != nil {
			return err
		}
	}

	for _, r := range reforms {
		r.ID = s.data.nextID("reforms")
		r.CreatedAt, r.UpdatedAt = s.now(), s.now()
		s.data.reforms[r.ID] = copyReform(r)
	}
	return nil
}

func (s *MemStore) checkReferences(r *Reform) error {
	if _, ok := s.data.places[r.PlaceID]; !ok {
		return &StoreError{Op: "reforms", Err: fmt.Errorf("foreign key violation: place %d", r.PlaceID)}
	}
	if r.PolicyDocumentID != nil {
		if _, ok := s.data.docs[*r.PolicyDocumentID]; !ok {
			return &StoreError{Op: "reforms", Err: fmt.Errorf("foreign key violation: policy document %d", *r.PolicyDocumentID)}
		}
	}
	return nil
}

func (s *MemStore) UpdateReform(ctx context.Context, r *Reform) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data.reforms[r.ID]
	if !ok {
		return fmt.Errorf("reform %d: %w", r.ID, ErrNotFound)
	}
	if err := s.checkReferences(r); err != nil {
		return err
	}
	if err := s.conflictFor(r.Key(), map[int64]struct{}{r.ID: {}}); err != nil {
		return err
	}

	next := copyReform(r)
	next.AIEnrichedFields = existing.AIEnrichedFields
	next.AIEnrichmentVersion = existing.AIEnrichmentVersion
	next.AIEnrichedAt = existing.AIEnrichedAt
	next.CreatedAt = existing.CreatedAt
	next.UpdatedAt = s.now()
	s.data.reforms[r.ID] = next
	r.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *MemStore) SetReformEnrichment(ctx context.Context, id int64, blob Enrichment, version string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data.reforms[id]
	if !ok {
		return fmt.Errorf("reform %d: %w", id, ErrNotFound)
	}
	r.AIEnrichedFields = blob.Clone()
	r.AIEnrichmentVersion = strPtr(version)
	r.AIEnrichedAt = &at
	r.UpdatedAt = s.now()
	return nil
}

func (s *MemStore) DeleteReform(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.reforms[id]; !ok {
		return fmt.Errorf("reform %d: %w", id, ErrNotFound)
	}
	delete(s.data.reforms, id)
	for k := range s.data.reformTypes {
		if k.a == id {
			delete(s.data.reformTypes, k)
		}
	}
	for k := range s.data.reformSources {
		if k.a == id {
			delete(s.data.reformSources, k)
		}
	}
	kept := s.data.citations[:0]
	for _, c := range s.data.citations {
		if c.ReformID != id {
			kept = append(kept, c)
		}
	}
	s.data.citations = kept
	return nil
}

func (s *MemStore) ReformsPendingEnrichment(ctx context.Context, version string, force bool, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, r := range s.data.reforms {
		if r.PolicyDocumentID == nil {
			continue
		}
		doc, ok := s.data.docs[*r.PolicyDocumentID]
		if !ok || doc.BillText == nil || strings.TrimSpace(*doc.BillText) == "" {
			continue
		}
		if !force && r.AIEnrichmentVersion != nil && *r.AIEnrichmentVersion >= version {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *MemStore) LinkReformTypes(ctx context.Context, links []ReformReformType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range links {
		if _, ok := s.data.reforms[l.ReformID]; !ok {
			return &StoreError{Op: "reform_reform_types", Err: fmt.Errorf("foreign key violation: reform %d", l.ReformID)}
		}
		if _, ok := s.data.types[l.ReformTypeID]; !ok {
			return &StoreError{Op: "reform_reform_types", Err: fmt.Errorf("foreign key violation: reform type %d", l.ReformTypeID)}
		}
		s.data.reformTypes[linkKey{l.ReformID, l.ReformTypeID}] = struct{}{}
	}
	return nil
}

func (s *MemStore) ReformTypeIDs(ctx context.Context, reformID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for k := range s.data.reformTypes {
		if k.a == reformID {
			ids = append(ids, k.b)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemStore) LinkReformSources(ctx context.Context, links []ReformSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range links {
		if _, ok := s.data.reforms[l.ReformID]; !ok {
			return &StoreError{Op: "reform_sources", Err: fmt.Errorf("foreign key violation: reform %d", l.ReformID)}
		}
		if _, ok := s.data.sources[l.SourceID]; !ok {
			return &StoreError{Op: "reform_sources", Err: fmt.Errorf("foreign key violation: source %d", l.SourceID)}
		}
		k := linkKey{l.ReformID, l.SourceID}
		if existing, ok := s.data.reformSources[k]; ok {
			existing.Reporter = coalesce(l.Reporter, existing.Reporter)
			existing.SourceURL = coalesce(l.SourceURL, existing.SourceURL)
			existing.Notes = coalesce(l.Notes, existing.Notes)
			existing.IsPrimary = l.IsPrimary
			continue
		}
		cp := l
		cp.CreatedAt = s.now()
		s.data.reformSources[k] = &cp
	}
	return nil
}

func (s *MemStore) ReformSources(ctx context.Context, reformID int64) ([]ReformSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ReformSource
	for k, v := range s.data.reformSources {
		if k.a == reformID {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out, nil
}

func (s *MemStore) AddReformCitations(ctx context.Context, citations []ReformCitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range citations {
		if _, ok := s.data.reforms[c.ReformID]; !ok {
			return &StoreError{Op: "reform_citations", Err: fmt.Errorf("foreign key violation: reform %d", c.ReformID)}
		}
		key := citationKeyOf(c.CitationURL, c.CitationDescription)
		dup := false
		for _, existing := range s.data.citations {
			if existing.ReformID == c.ReformID && citationKeyOf(existing.CitationURL, existing.CitationDescription) == key {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		cp := c
		cp.ID = s.data.nextID("reform_citations")
		cp.CreatedAt = s.now()
		s.data.citations = append(s.data.citations, &cp)
	}
	return nil
}

func (s *MemStore) ReformCitations(ctx context.Context, reformID int64) ([]ReformCitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ReformCitation
	for _, c := range s.data.citations {
		if c.ReformID == reformID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) CreateIngestion(ctx context.Context, run *DataIngestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now()
	}
	s.data.ingestions = append(s.data.ingestions, *run)
	return nil
}

func (s *MemStore) ListIngestions(ctx context.Context, limit int) ([]DataIngestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DataIngestion, 0, len(s.data.ingestions))
	for i := len(s.data.ingestions) - 1; i >= 0; i-- {
		out = append(out, s.data.ingestions[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemStore) SaveEnrichmentRun(ctx context.Context, run *EnrichmentRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == uuid.Nil {
		return errors.New("enrichment run without id")
	}
	s.data.runs[run.ID] = *run
	return nil
}

// EnrichmentRun returns a saved run, for inspection in tests.
func (s *MemStore) EnrichmentRun(id uuid.UUID) (EnrichmentRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data.runs[id]
	return r, ok
}

func (s *MemStore) AddActivity(ctx context.Context, entry *ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = s.data.nextID("activity_logs")
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.data.activity = append(s.data.activity, *entry)
	return nil
}

// Activity returns the recorded activity entries in insertion order.
func (s *MemStore) Activity() []ActivityLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ActivityLog(nil), s.data.activity...)
}

// ReformCount reports how many reforms are stored.
func (s *MemStore) ReformCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.reforms)
}

func toSet(ids []int64) map[int64]struct{} {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func coalesce[T any](preferred, fallback *T) *T {
	if preferred != nil {
		return preferred
	}
	return fallback
}
