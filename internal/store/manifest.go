package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

const manifestSuffix = ".manifest.json"

const manifestSchemaJSON = `{
  "type": "object",
  "required": ["key", "path", "schema_version", "rows", "placeholders", "bytes", "checksum", "split_adjusted"],
  "properties": {
    "key": {"type": "string", "minLength": 1},
    "path": {"type": "string", "minLength": 1},
    "schema_version": {"type": "string", "minLength": 1},
    "coverage_start": {"type": "string"},
    "coverage_end": {"type": "string"},
    "rows": {"type": "integer", "minimum": 0},
    "placeholders": {"type": "integer", "minimum": 0},
    "bytes": {"type": "integer", "minimum": 0},
    "checksum": {"type": "string", "pattern": "^xxh64:[0-9a-f]{16}$"},
    "split_adjusted": {"type": "boolean"},
    "actions_digest": {"type": "string"},
    "last_sync_at": {"type": "string"}
  }
}`

var manifestSchema = mustCompileManifestSchema()

func mustCompileManifestSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("manifest.json", strings.NewReader(manifestSchemaJSON)); err != nil {
		panic(fmt.Sprintf("manifest schema: %v", err))
	}
	return compiler.MustCompile("manifest.json")
}

// parseManifest 先做 JSON schema 校验，再解码。
func parseManifest(raw []byte) (Manifest, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Manifest{}, fmt.Errorf("manifest is not json: %w", err)
	}
	if err := manifestSchema.Validate(doc); err != nil {
		return Manifest{}, fmt.Errorf("manifest schema: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("manifest decode: %w", err)
	}
	return m, nil
}

// peekManifest 只读取覆盖区间等少量字段，不做完整解码与校验。
func peekManifest(raw []byte) (Manifest, error) {
	if !gjson.ValidBytes(raw) {
		return Manifest{}, fmt.Errorf("manifest is not valid json")
	}
	fields := gjson.GetManyBytes(raw, "key", "schema_version", "coverage_start", "coverage_end", "rows", "placeholders", "split_adjusted")
	m := Manifest{
		Key:           fields[0].String(),
		SchemaVersion: fields[1].String(),
		Rows:          int(fields[4].Int()),
		Placeholders:  int(fields[5].Int()),
		SplitAdjusted: fields[6].Bool(),
	}
	var err error
	if m.CoverageStart, err = parseManifestTime(fields[2]); err != nil {
		return Manifest{}, err
	}
	if m.CoverageEnd, err = parseManifestTime(fields[3]); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func parseManifestTime(r gjson.Result) (time.Time, error) {
	if !r.Exists() || r.String() == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, r.String())
	if err != nil {
		return time.Time{}, fmt.Errorf("manifest time %q: %w", r.String(), err)
	}
	return t.UTC(), nil
}
