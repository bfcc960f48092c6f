package response

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SolveJSONSchema returns the JSON Schema (draft 2020-12 subset) of a solve response.
func SolveJSONSchema() map[string]any {
	str := map[string]any{"type": "string"}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"problems"},
		"properties": map[string]any{
			"problems": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"problem", "answer"},
					"properties": map[string]any{
						"problem":     str,
						"answer":      str,
						"explanation": str,
					},
				},
			},
		},
	}
}

var compiledSolveSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return compileSchema(SolveJSONSchema())
})

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// ValidateSolveJSON validates data against SolveJSONSchema.
func ValidateSolveJSON(data []byte) error {
	schema, err := compiledSolveSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

var (
	topSynonyms = map[string]string{
		"solutions": "problems",
		"questions": "problems",
		"items":     "problems",
	}
	problemSynonyms = map[string]string{
		"question":     "problem",
		"problem_text": "problem",
		"final_answer": "answer",
		"solution":     "answer",
		"steps":        "explanation",
		"reasoning":    "explanation",
	}
	problemKeys = map[string]struct{}{"problem": {}, "answer": {}, "explanation": {}}
)

// NormalizeSolveJSON makes a model's JSON friendlier to the strict schema:
//   - renames known synonyms
//   - coerces numbers and booleans to strings, trims strings
//   - drops nulls and unknown keys
//
// It returns the cleaned document and a list of what was changed.
func NormalizeSolveJSON(raw []byte) ([]byte, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("normalize: decode: %w", err)
	}

	dropped := make([]string, 0, 4)
	rename(m, topSynonyms, &dropped)
	for k := range maps.Clone(m) {
		if k != "problems" {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}

	if list, ok := m["problems"].([]any); ok {
		for i, item := range list {
			pm, ok := item.(map[string]any)
			if !ok {
				continue
			}
			rename(pm, problemSynonyms, &dropped)
			for k, v := range maps.Clone(pm) {
				if _, known := problemKeys[k]; !known {
					delete(pm, k)
					dropped = append(dropped, fmt.Sprintf("problems[%d].%s(unknown)", i, k))
					continue
				}
				switch t := v.(type) {
				case nil:
					delete(pm, k)
					dropped = append(dropped, fmt.Sprintf("problems[%d].%s(null)", i, k))
				case string:
					pm[k] = strings.TrimSpace(t)
				case float64:
					pm[k] = strconv.FormatFloat(t, 'f', -1, 64)
				case bool:
					pm[k] = strconv.FormatBool(t)
				case []any:
					// step lists become one line per step
					parts := make([]string, 0, len(t))
					for _, e := range t {
						parts = append(parts, strings.TrimSpace(fmt.Sprint(e)))
					}
					pm[k] = strings.Join(parts, "\n")
				}
			}
			list[i] = pm
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("normalize: encode: %w", err)
	}
	return out, dropped, nil
}

func rename(m map[string]any, synonyms map[string]string, dropped *[]string) {
	for from, to := range synonyms {
		v, ok := m[from]
		if !ok {
			continue
		}
		if _, exists := m[to]; !exists {
			m[to] = v
		}
		delete(m, from)
		*dropped = append(*dropped, from+"->"+to)
	}
}
