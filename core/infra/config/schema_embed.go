package config

import "embed"

const catalogSchemaFile = "schema/catalog.schema.json"

//go:embed schema/*.json
var configSchemaFS embed.FS
