package config

import (
	"fmt"
	"strings"

	configschema "github.com/botify/catalog/core/infra/schema"
)

func validateConfigSchema(name, schemaPath string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	schemaBytes, err := configSchemaFS.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("load %s schema: %w", name, err)
	}
	schemaID := strings.ReplaceAll(name, " ", "-")
	if err := configschema.ValidateYAML(schemaID, schemaBytes, data); err != nil {
		return fmt.Errorf("validate %s config: %w", name, err)
	}
	return nil
}
