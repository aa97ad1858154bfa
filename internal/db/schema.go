package db

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// EnsureSchema creates schema if it does not exist. Point DATABASE_URL's
// search_path at it to have migrations land there.
func EnsureSchema(d *gorm.DB, schema string) error {
	schema = strings.TrimSpace(schema)
	if schema == "" || schema == "public" {
		return nil
	}
	if strings.ContainsAny(schema, `"; `) {
		return fmt.Errorf("invalid schema name %q", schema)
	}
	return d.Exec(`CREATE SCHEMA IF NOT EXISTS "` + schema + `"`).Error
}
