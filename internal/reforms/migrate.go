package reforms

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

var models = []any{
	&Place{},
	&PolicyDocument{},
	&ReformType{},
	&Source{},
	&Reform{},
	&ReformReformType{},
	&ReformSource{},
	&ReformCitation{},
	&DataIngestion{},
	&EnrichmentRun{},
	&ActivityLog{},
}

var constraintDDL = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS reform_citations_unique
		ON reform_citations (reform_id, COALESCE(citation_url, ''), COALESCE(citation_description, ''))`,
	cascadeFK("reform_reform_types", "reform_reform_types_reform_fk", "reform_id", "reforms"),
	cascadeFK("reform_reform_types", "reform_reform_types_type_fk", "reform_type_id", "reform_types"),
	cascadeFK("reform_sources", "reform_sources_reform_fk", "reform_id", "reforms"),
	cascadeFK("reform_sources", "reform_sources_source_fk", "source_id", "sources"),
	cascadeFK("reform_citations", "reform_citations_reform_fk", "reform_id", "reforms"),
	restrictFK("reforms", "reforms_place_fk", "place_id", "places"),
	restrictFK("reforms", "reforms_policy_document_fk", "policy_document_id", "policy_documents"),
}

func cascadeFK(table, name, column, ref string) string {
	return fkDDL(table, name, column, ref, "CASCADE")
}

func restrictFK(table, name, column, ref string) string {
	return fkDDL(table, name, column, ref, "RESTRICT")
}

func fkDDL(table, name, column, ref, onDelete string) string {
	return fmt.Sprintf(`DO $$ BEGIN
	ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s(id) ON DELETE %s;
EXCEPTION WHEN duplicate_object THEN NULL;
END $$`, table, name, column, ref, onDelete)
}

// Migrate creates or updates tables, the identity indexes and the cascading
// foreign keys. It is idempotent and runs at start-up.
func Migrate(ctx context.Context, db *gorm.DB) error {
	d := db.WithContext(ctx)
	if err := d.AutoMigrate(models...); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	for _, stmt := range append(append([]string{}, identityIndexDDL...), constraintDDL...) {
		if err := d.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
