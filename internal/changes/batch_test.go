package changes

import (
	"errors"
	"testing"

	"github.com/starford/sddbundle/internal/apperr"
	"github.com/starford/sddbundle/internal/models"
	"github.com/starford/sddbundle/internal/parser"
)

func TestDecodeBatch(t *testing.T) {
	jsonBatch := []byte(`{"changes":[
		{"entityType":"Task","entityId":"TASK-002","newValue":{"title":"x","estimate":3}},
		{"entityType":"Task","entityId":"TASK-001","delete":true}
	]}`)
	got, err := DecodeBatch(jsonBatch, parser.FormatJSON)
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if len(got) != 2 || got[1].Kind() != models.OpDelete || got[0].Kind() != models.OpCreate {
		t.Fatalf("decoded = %+v", got)
	}
	if est := got[0].NewValue.(map[string]any)["estimate"]; est != 3 {
		t.Errorf("estimate = %#v, want int 3", est)
	}

	list, err := DecodeBatch([]byte(`[{"entityType":"Task","entityId":"TASK-001","fieldPath":"title","newValue":null}]`), parser.FormatJSON)
	if err != nil || len(list) != 1 || list[0].NewValue != nil {
		t.Fatalf("list form = %+v, %v", list, err)
	}

	yamlBatch := []byte("changes:\n  - entityType: Requirement\n    entityId: REQ-001\n    fieldPath: status\n    newValue: approved\n")
	y, err := DecodeBatch(yamlBatch, parser.FormatYAML)
	if err != nil || len(y) != 1 || y[0].NewValue != "approved" {
		t.Fatalf("yaml form = %+v, %v", y, err)
	}

	if _, err := DecodeBatch([]byte(`{"changes":`), parser.FormatJSON); !errors.Is(err, apperr.ErrInvalidChange) {
		t.Errorf("expected ErrInvalidChange, got %v", err)
	}
}
