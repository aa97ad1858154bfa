package reforms

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/EmpoweredVote/EV-Reforms/internal/logging"
)

// EnrichmentResult is parsed AI output for one reform. Fields maps a field
// name to an object holding at least "value", usually also "confidence".
type EnrichmentResult struct {
	ReformID         int64          `json:"reform_id"`
	Fields           map[string]any `json:"fields"`
	SourceURL        string         `json:"source_url,omitempty"`
	ContentLength    int            `json:"content_length,omitempty"`
	PolicyDocumentID *int64         `json:"policy_document_id,omitempty"`
}

func (r EnrichmentResult) value(field string) (any, bool) {
	f, ok := r.Fields[field].(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := f["value"]
	return v, ok && v != nil
}

func (r EnrichmentResult) stringValue(field string) string {
	v, _ := r.value(field)
	s, _ := v.(string)
	return s
}

func (r EnrichmentResult) stringsValue(field string) []string {
	v, _ := r.value(field)
	switch vv := v.(type) {
	case []string:
		return cleanStrings(vv)
	case []any:
		var out []string
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return cleanStrings(out)
	}
	return nil
}

type EnricherConfig struct {
	Version  string
	Provider string
	Model    string
	// ProgressEvery controls how often the run row is refreshed.
	ProgressEvery int
}

// Enricher applies enrichment results one reform at a time. Every reform is
// its own transaction; a failure rolls back that reform only.
type Enricher struct {
	store Store
	cfg   EnricherConfig
	now   func() time.Time
}

func NewEnricher(st Store, cfg EnricherConfig) *Enricher {
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = 10
	}
	return &Enricher{store: st, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// Pending lists reforms whose enrichment is older than the configured
// version and whose policy document has bill text.
func (e *Enricher) Pending(ctx context.Context, force bool, limit int) ([]int64, error) {
	return e.store.ReformsPendingEnrichment(ctx, e.cfg.Version, force, limit)
}

// Run applies results and records the run in ai_enrichment_runs.
func (e *Enricher) Run(ctx context.Context, results []EnrichmentResult) (*EnrichmentRun, error) {
	run := &EnrichmentRun{
		ID:                uuid.New(),
		EnrichmentVersion: e.cfg.Version,
		AIProvider:        e.cfg.Provider,
		AIModel:           e.cfg.Model,
		Status:            "running",
		StartedAt:         e.now(),
	}
	if err := e.store.SaveEnrichmentRun(ctx, run); err != nil {
		return nil, storeErr("start enrichment run", err)
	}

	ctx = logging.With(ctx, "enrichment_run", run.ID.String())
	log := logging.FromContext(ctx)

	types, err := LoadTypeIndex(ctx, e.store)
	if err != nil {
		return nil, err
	}

	for _, res := range results {
		if err := ctx.Err(); err != nil {
			return e.finish(ctx, run, err)
		}
		run.ReformsProcessed++

		outcome, docEnriched, err := e.applyOne(ctx, types, res)
		switch {
		case err != nil:
			run.ReformsFailed++
			if run.ErrorMessage == nil {
				run.ErrorMessage = strPtr(fmt.Sprintf("reform %d: %v", res.ReformID, err))
			}
			log.Warn().Int64("reform_id", res.ReformID).Err(err).Msg("enrichment failed")
		default:
			run.ReformsEnriched++
			if outcome.Merged {
				run.ReformsMerged++
			}
			if docEnriched {
				run.PolicyDocsEnriched++
			}
		}

		if run.ReformsProcessed%e.cfg.ProgressEvery == 0 {
			if err := e.store.SaveEnrichmentRun(ctx, run); err != nil {
				log.Warn().Err(err).Msg("failed to save enrichment progress")
			}
		}
	}
	return e.finish(ctx, run, nil)
}

func (e *Enricher) finish(ctx context.Context, run *EnrichmentRun, cause error) (*EnrichmentRun, error) {
	done := e.now()
	run.CompletedAt = &done
	switch {
	case cause != nil:
		run.Status = "failed"
		run.ErrorMessage = strPtr(cause.Error())
	case run.ReformsFailed > 0:
		run.Status = "completed_with_errors"
	default:
		run.Status = "completed"
	}
	if err := e.store.SaveEnrichmentRun(ctx, run); err != nil {
		return run, storeErr("finish enrichment run", err)
	}
	logging.FromContext(ctx).Info().
		Int("processed", run.ReformsProcessed).
		Int("enriched", run.ReformsEnriched).
		Int("merged", run.ReformsMerged).
		Int("failed", run.ReformsFailed).
		Msg("enrichment run finished")
	return run, cause
}

// applyOne writes the blob, applies identity corrections through the merge
// resolver and enriches the policy document, all in one transaction.
func (e *Enricher) applyOne(ctx context.Context, types *TypeIndex, res EnrichmentResult) (*UpdateOutcome, bool, error) {
	now := e.now()
	blob := e.blob(res, now)
	var outcome *UpdateOutcome
	docEnriched := false

	err := e.store.WithTx(ctx, func(tx Store) error {
		if err := tx.SetReformEnrichment(ctx, res.ReformID, blob, e.cfg.Version, now); err != nil {
			return err
		}

		upd := ReformUpdate{
			AdoptionDate:      ParseFlexibleDate(res.stringValue("adoption_date")),
			Status:            StatusPtr(res.stringValue("status")),
			PolicyDocumentID:  res.PolicyDocumentID,
			Enrichment:        blob,
			EnrichmentVersion: e.cfg.Version,
			EnrichedAt:        now,
		}
		if code := res.stringValue("reform_type_suggestion"); code != "" {
			if id, ok := types.Resolve(code); ok {
				upd.TypeIDs = []int64{id}
			} else {
				logging.FromContext(ctx).Warn().Str("code", code).Msg("unknown reform type suggestion")
			}
		}

		var err error
		outcome, err = ApplyUpdate(ctx, tx, res.ReformID, upd)
		if err != nil {
			return err
		}

		keyPoints := res.stringsValue("key_points")
		analysis := nonEmpty(strPtr(res.stringValue("analysis")))
		if len(keyPoints) == 0 && analysis == nil {
			return nil
		}
		r, err := tx.GetReform(ctx, outcome.ReformID)
		if err != nil {
			return err
		}
		if r.PolicyDocumentID == nil {
			return nil
		}
		docBlob := Enrichment{
			"version":     e.cfg.Version,
			"model":       e.cfg.Model,
			"provider":    e.cfg.Provider,
			"enriched_at": now.Format(time.RFC3339),
			"fields":      docFields(res),
		}
		if err := tx.SetPolicyDocumentEnrichment(ctx, *r.PolicyDocumentID, DocumentEnrichment{
			KeyPoints: keyPoints,
			Analysis:  analysis,
			Blob:      docBlob,
			Version:   e.cfg.Version,
			At:        now,
		}); err != nil {
			return err
		}
		docEnriched = true
		return nil
	})
	return outcome, docEnriched, err
}

func (e *Enricher) blob(res EnrichmentResult, at time.Time) Enrichment {
	fields := make(map[string]any, len(res.Fields))
	for k, v := range res.Fields {
		fields[k] = v
	}
	b := Enrichment{
		"version":     e.cfg.Version,
		"model":       e.cfg.Model,
		"provider":    e.cfg.Provider,
		"enriched_at": at.Format(time.RFC3339),
		"fields":      fields,
	}
	if res.SourceURL != "" {
		b["source_documents"] = []any{map[string]any{
			"url":            res.SourceURL,
			"fetched_at":     at.Format(time.RFC3339),
			"content_length": res.ContentLength,
		}}
	}
	return b
}

func docFields(res EnrichmentResult) map[string]any {
	out := map[string]any{}
	for _, k := range []string{"key_points", "analysis"} {
		if v, ok := res.Fields[k]; ok {
			out[k] = v
		}
	}
	return out
}
