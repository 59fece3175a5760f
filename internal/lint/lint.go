package lint

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/starford/sddbundle/internal/graph"
	"github.com/starford/sddbundle/internal/models"
)

// Snapshot is the minimal bundle shape the rules evaluate.
type Snapshot struct {
	// Entities maps type -> id -> payload.
	Entities map[string]map[string]map[string]any
	// Registry maps id -> entity type.
	Registry map[string]string
	Edges    []models.Edge
}

type entityRef struct {
	typ  string
	id   string
	data map[string]any
}

// entities returns the payloads of the given types (all types when empty),
// ordered by type then id.
func (s Snapshot) entities(types []string) []entityRef {
	if len(types) == 0 {
		for t := range s.Entities {
			types = append(types, t)
		}
	}
	types = append([]string(nil), types...)
	sort.Strings(types)
	var out []entityRef
	for _, t := range types {
		byID := s.Entities[t]
		ids := make([]string, 0, len(byID))
		for id := range byID {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			out = append(out, entityRef{typ: t, id: id, data: byID[id]})
		}
	}
	return out
}

// Run evaluates every rule in name order and concatenates the results.
// A misconfigured rule yields a diagnostic; the other rules still run.
func Run(cfg *Config, snap Snapshot) []models.Diagnostic {
	if cfg == nil {
		return nil
	}
	names := make([]string, 0, len(cfg.Rules))
	for n := range cfg.Rules {
		names = append(names, n)
	}
	sort.Strings(names)

	var out []models.Diagnostic
	for _, name := range names {
		diags, err := runRule(name, cfg.Rules[name], snap)
		if err != nil {
			out = append(out, models.Diagnostic{
				Severity: models.SeverityError,
				Message:  fmt.Sprintf("lint rule %s: %v", name, err),
				Source:   models.SourceLint,
				Code:     name,
			})
			continue
		}
		out = append(out, diags...)
	}
	return out
}

func runRule(name string, r Rule, snap Snapshot) ([]models.Diagnostic, error) {
	e := emitter{name: name, rule: r}
	switch r.Kind {
	case KindRegex:
		return e.regex(snap)
	case KindHasLink:
		return e.hasLink(snap)
	case KindCoverage:
		return e.coverage(snap)
	case KindNoBrokenRef:
		return e.noBrokenRef(snap), nil
	case KindRedundantLink:
		return e.redundant(snap), nil
	case KindRequiredField:
		return e.requiredField(snap)
	case KindEnumValue:
		return e.enumValue(snap)
	case KindQualityCheck:
		return e.quality(snap)
	case "":
		return nil, fmt.Errorf("missing kind")
	default:
		return nil, fmt.Errorf("unknown kind %q", r.Kind)
	}
}

type emitter struct {
	name string
	rule Rule
	out  []models.Diagnostic
}

func (e *emitter) emit(code, typ, id, field, msg string) {
	if e.rule.Kind == KindRequiredField && e.rule.Message != "" {
		msg = e.rule.Message
	}
	d := models.Diagnostic{
		Severity:   e.rule.severity(),
		Message:    msg,
		EntityType: typ,
		EntityID:   id,
		Source:     models.SourceLint,
		Code:       code,
	}
	if field != "" {
		d.Path = "/" + field
	}
	e.out = append(e.out, d)
}

func requireField(r Rule) error {
	if r.Field == "" {
		return fmt.Errorf("field is required")
	}
	return nil
}

func (e *emitter) regex(snap Snapshot) ([]models.Diagnostic, error) {
	if err := requireField(e.rule); err != nil {
		return nil, err
	}
	re, err := regexp.Compile(e.rule.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	for _, ent := range snap.entities(e.rule.Entities) {
		s, ok := ent.data[e.rule.Field].(string)
		if !ok || re.MatchString(s) {
			continue
		}
		e.emit(e.name, ent.typ, ent.id, e.rule.Field,
			fmt.Sprintf("%s %s: field %s value %q does not match %s", ent.typ, ent.id, e.rule.Field, s, e.rule.Pattern))
	}
	return e.out, nil
}

// linkCount counts non-empty references: a string counts 1, an array
// counts its non-empty string elements.
func linkCount(v any) int {
	return len(graph.RefValues(v))
}

func (e *emitter) hasLink(snap Snapshot) ([]models.Diagnostic, error) {
	if err := requireField(e.rule); err != nil {
		return nil, err
	}
	want := e.rule.min()
	for _, ent := range snap.entities(e.rule.Entities) {
		if n := linkCount(ent.data[e.rule.Field]); n < want {
			e.emit(e.name, ent.typ, ent.id, e.rule.Field,
				fmt.Sprintf("%s %s: field %s has %d link(s), expected at least %d", ent.typ, ent.id, e.rule.Field, n, want))
		}
	}
	return e.out, nil
}

func (e *emitter) coverage(snap Snapshot) ([]models.Diagnostic, error) {
	if err := requireField(e.rule); err != nil {
		return nil, err
	}
	if e.rule.Source == "" {
		return nil, fmt.Errorf("source is required")
	}
	counts := make(map[string]int)
	for _, src := range snap.entities([]string{e.rule.Source}) {
		for _, id := range graph.RefValues(src.data[e.rule.Field]) {
			counts[id]++
		}
	}
	want := e.rule.min()
	for _, ent := range snap.entities(e.rule.Entities) {
		if n := counts[ent.id]; n < want {
			e.emit(e.name, ent.typ, ent.id, "",
				fmt.Sprintf("%s %s is referenced by %d %s via %s, expected at least %d", ent.typ, ent.id, n, e.rule.Source, e.rule.Field, want))
		}
	}
	return e.out, nil
}

func (e *emitter) noBrokenRef(snap Snapshot) []models.Diagnostic {
	for _, edge := range snap.Edges {
		if len(e.rule.Entities) > 0 && !e.rule.Entities.Contains(edge.FromType) {
			continue
		}
		if _, ok := snap.Registry[edge.ToID]; ok {
			continue
		}
		e.emit(e.name, edge.FromType, edge.FromID, edge.FromField,
			fmt.Sprintf("%s %s: field %s references missing %s %s", edge.FromType, edge.FromID, edge.FromField, edge.ToType, edge.ToID))
	}
	return e.out
}

func (e *emitter) redundant(snap Snapshot) []models.Diagnostic {
	type dir struct{ from, to string }
	present := make(map[dir]bool, len(snap.Edges))
	for _, edge := range snap.Edges {
		present[dir{edge.FromID, edge.ToID}] = true
	}
	reported := make(map[dir]bool)
	for _, edge := range snap.Edges {
		if edge.FromID == edge.ToID || !present[dir{edge.ToID, edge.FromID}] {
			continue
		}
		if len(e.rule.Entities) > 0 && !e.rule.Entities.Contains(edge.FromType) && !e.rule.Entities.Contains(edge.ToType) {
			continue
		}
		key := dir{edge.FromID, edge.ToID}
		if key.to < key.from {
			key = dir{key.to, key.from}
		}
		if reported[key] {
			continue
		}
		reported[key] = true
		e.emit(e.name, edge.FromType, edge.FromID, edge.FromField,
			fmt.Sprintf("%s %s and %s %s link to each other; one direction is redundant", edge.FromType, edge.FromID, edge.ToType, edge.ToID))
	}
	return e.out
}

func isBlank(v any, present bool) bool {
	if !present || v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func (e *emitter) requiredField(snap Snapshot) ([]models.Diagnostic, error) {
	if err := requireField(e.rule); err != nil {
		return nil, err
	}
	for _, ent := range snap.entities(e.rule.Entities) {
		v, ok := ent.data[e.rule.Field]
		if isBlank(v, ok) {
			e.emit(e.name, ent.typ, ent.id, e.rule.Field,
				fmt.Sprintf("%s %s: required field %s is missing or empty", ent.typ, ent.id, e.rule.Field))
		}
	}
	return e.out, nil
}

func (e *emitter) enumValue(snap Snapshot) ([]models.Diagnostic, error) {
	if err := requireField(e.rule); err != nil {
		return nil, err
	}
	if len(e.rule.Values) == 0 {
		return nil, fmt.Errorf("values are required")
	}
	allowed := make([]string, len(e.rule.Values))
	for i, v := range e.rule.Values {
		allowed[i] = fmt.Sprint(v)
	}
	for _, ent := range snap.entities(e.rule.Entities) {
		v, ok := ent.data[e.rule.Field]
		if !ok || v == nil {
			continue
		}
		got := fmt.Sprint(v)
		found := false
		for _, a := range allowed {
			if a == got {
				found = true
				break
			}
		}
		if !found {
			e.emit(e.name, ent.typ, ent.id, e.rule.Field,
				fmt.Sprintf("%s %s: field %s value %q is not one of [%s]", ent.typ, ent.id, e.rule.Field, got, strings.Join(allowed, ", ")))
		}
	}
	return e.out, nil
}

func (e *emitter) quality(snap Snapshot) ([]models.Diagnostic, error) {
	checks := []string(e.rule.Checks)
	if len(checks) == 0 {
		checks = allQualityChecks
	}
	for _, c := range checks {
		switch c {
		case CheckAtomic, CheckTraceable, CheckComplete, CheckVerifiable:
		default:
			return nil, fmt.Errorf("unknown quality check %q", c)
		}
	}
	enabled := StringList(checks)
	descField := orDefault(e.rule.DescriptionField, defaultDescField)
	linkField := orDefault(e.rule.LinkField, defaultLinkField)
	acceptField := orDefault(e.rule.AcceptanceField, defaultAcceptField)
	featureField := orDefault(e.rule.FeatureLinkField, defaultLinkField)
	maxLen := e.rule.MaxDescriptionLength
	if maxLen <= 0 {
		maxLen = defaultDescMaxLen
	}
	code := func(sub string) string { return e.name + "." + sub }

	for _, ent := range snap.entities(e.rule.Entities) {
		if enabled.Contains(CheckAtomic) {
			if s, ok := ent.data[descField].(string); ok && len([]rune(s)) > maxLen {
				e.emit(code(CheckAtomic), ent.typ, ent.id, descField,
					fmt.Sprintf("%s %s: description is %d characters, longer than %d; consider splitting", ent.typ, ent.id, len([]rune(s)), maxLen))
			}
		}
		if enabled.Contains(CheckTraceable) && linkCount(ent.data[linkField]) == 0 {
			e.emit(code(CheckTraceable), ent.typ, ent.id, linkField,
				fmt.Sprintf("%s %s: no links in %s", ent.typ, ent.id, linkField))
		}
		if enabled.Contains(CheckComplete) {
			var missing []string
			for _, f := range e.rule.ExpectedFields {
				v, ok := ent.data[f]
				if isBlank(v, ok) || isEmptyList(v) {
					missing = append(missing, f)
				}
			}
			if len(missing) > 0 {
				e.emit(code(CheckComplete), ent.typ, ent.id, "",
					fmt.Sprintf("%s %s: missing expected fields: %s", ent.typ, ent.id, strings.Join(missing, ", ")))
			}
		}
		if enabled.Contains(CheckVerifiable) {
			accept, ok := ent.data[acceptField]
			hasAccept := !isBlank(accept, ok) && !isEmptyList(accept)
			if !hasAccept && linkCount(ent.data[featureField]) == 0 {
				e.emit(code(CheckVerifiable), ent.typ, ent.id, acceptField,
					fmt.Sprintf("%s %s: neither %s nor %s present", ent.typ, ent.id, acceptField, featureField))
			}
		}
	}
	return e.out, nil
}

func isEmptyList(v any) bool {
	l, ok := v.([]any)
	return ok && len(l) == 0
}
