package migrations

import (
	"fmt"
	"os"
	"path/filepath"
)

const initialSchemaFile = "001_initial_schema.sql"

// MigrationsDir can be overridden in tests or by the application
var MigrationsDir = "scripts/migrations"

// GetInitialSchema loads the schema SQL. Lookup is relative so it works
// both from the repository root and from package test directories.
func GetInitialSchema() (string, error) {
	for _, prefix := range []string{".", "..", filepath.Join("..", "..")} {
		path := filepath.Join(prefix, MigrationsDir, initialSchemaFile)
		if schema, err := os.ReadFile(path); err == nil {
			return string(schema), nil
		}
	}

	return "", fmt.Errorf("schema file %s not found under %s", initialSchemaFile, MigrationsDir)
}
