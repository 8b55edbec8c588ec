package catalog

import (
	"encoding/json"
	"io"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// maxManifestBytes caps how much of a manifest entry is read.
const maxManifestBytes = 1 << 20

// ManifestNames is the manifest search order: bot-specific names first, then
// the generic config file, then the package descriptor. First match wins.
var ManifestNames = []string{
	"bot.json",
	"bot.yaml",
	"bot.yml",
	"config.json",
	"package.json",
}

// FindManifest returns the archive entry holding the manifest, looking at the
// archive root first and then under a single wrapping directory.
func FindManifest(a *Archive) (string, bool) {
	if a == nil {
		return "", false
	}
	prefixes := []string{""}
	if dir := a.wrapperDir(); dir != "" {
		prefixes = append(prefixes, dir+"/")
	}
	for _, name := range ManifestNames {
		for _, prefix := range prefixes {
			if a.Has(prefix + name) {
				return prefix + name, true
			}
		}
	}
	return "", false
}

// Extract returns the manifest of a validated archive as a mapping. A missing,
// unreadable or non-object manifest yields an empty mapping, never an error.
func Extract(a *Archive) map[string]any {
	name, ok := FindManifest(a)
	if !ok {
		return map[string]any{}
	}
	return readManifest(a, name)
}

func readManifest(a *Archive, name string) map[string]any {
	rc, err := a.Open(name)
	if err != nil {
		return map[string]any{}
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxManifestBytes+1))
	if err != nil || len(data) > maxManifestBytes {
		return map[string]any{}
	}
	out, err := parseManifest(name, data)
	if err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

func parseManifest(name string, data []byte) (map[string]any, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		var out map[string]any
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		normalized, _ := normalizeYAML(out).(map[string]any)
		return normalized, nil
	default:
		var out map[string]any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// normalizeYAML rewrites yaml.v3 decoded values so they survive a JSON round
// trip unchanged: non-string map keys become strings and ints become float64.
func normalizeYAML(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			key, ok := k.(string)
			if !ok {
				raw, _ := json.Marshal(k)
				key = strings.Trim(string(raw), `"`)
			}
			out[key] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeYAML(item)
		}
		return out
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	default:
		return value
	}
}
