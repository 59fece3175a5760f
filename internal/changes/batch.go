package changes

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/starford/sddbundle/internal/apperr"
	"github.com/starford/sddbundle/internal/models"
	"github.com/starford/sddbundle/internal/parser"
)

// rawChange defers value decoding so numbers keep their integer form.
type rawChange struct {
	Operation     models.Operation `json:"operation"`
	EntityType    string           `json:"entityType"`
	EntityID      string           `json:"entityId"`
	FieldPath     string           `json:"fieldPath"`
	OriginalValue json.RawMessage  `json:"originalValue"`
	NewValue      json.RawMessage  `json:"newValue"`
	Delete        bool             `json:"delete"`
}

// DecodeBatch decodes a batch document: either a list of changes or an
// object with a "changes" list, in JSON or YAML.
func DecodeBatch(data []byte, format parser.Format) ([]models.ProposedChange, error) {
	if format == parser.FormatYAML {
		return decodeYAMLBatch(data)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Changes []rawChange `json:"changes"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("changes: decode batch: %v: %w", err, apperr.ErrInvalidChange)
		}
		return convert(wrapped.Changes)
	}
	var list []rawChange
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, fmt.Errorf("changes: decode batch: %v: %w", err, apperr.ErrInvalidChange)
	}
	return convert(list)
}

func convert(raw []rawChange) ([]models.ProposedChange, error) {
	out := make([]models.ProposedChange, len(raw))
	for i, r := range raw {
		c := models.ProposedChange{
			Operation:  r.Operation,
			EntityType: r.EntityType,
			EntityID:   r.EntityID,
			FieldPath:  r.FieldPath,
			Delete:     r.Delete,
		}
		var err error
		if c.NewValue, err = rawValue(r.NewValue); err != nil {
			return nil, fmt.Errorf("changes: change %d newValue: %v: %w", i, err, apperr.ErrInvalidChange)
		}
		if c.OriginalValue, err = rawValue(r.OriginalValue); err != nil {
			return nil, fmt.Errorf("changes: change %d originalValue: %v: %w", i, err, apperr.ErrInvalidChange)
		}
		out[i] = c
	}
	return out, nil
}

func rawValue(m json.RawMessage) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return parser.DecodeJSONValue(m)
}

func decodeYAMLBatch(data []byte) ([]models.ProposedChange, error) {
	var n yaml.Node
	if err := yaml.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("changes: decode batch: %v: %w", err, apperr.ErrInvalidChange)
	}
	var out []models.ProposedChange
	if len(n.Content) > 0 && n.Content[0].Kind == yaml.MappingNode {
		var wrapped struct {
			Changes []models.ProposedChange `yaml:"changes"`
		}
		if err := n.Decode(&wrapped); err != nil {
			return nil, fmt.Errorf("changes: decode batch: %v: %w", err, apperr.ErrInvalidChange)
		}
		out = wrapped.Changes
	} else if err := n.Decode(&out); err != nil {
		return nil, fmt.Errorf("changes: decode batch: %v: %w", err, apperr.ErrInvalidChange)
	}
	return out, nil
}
