package changes

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/starford/sddbundle/internal/apperr"
)

// ParsePath splits a field path. Both dotted ("a.b.0") and JSON pointer
// ("/a/b/0", with ~1 and ~0 escapes) forms are accepted.
func ParsePath(p string) ([]string, error) {
	if p == "" || p == "/" {
		return nil, fmt.Errorf("changes: empty field path: %w", apperr.ErrInvalidChange)
	}
	var segs []string
	if strings.HasPrefix(p, "/") {
		for _, s := range strings.Split(p[1:], "/") {
			s = strings.ReplaceAll(s, "~1", "/")
			segs = append(segs, strings.ReplaceAll(s, "~0", "~"))
		}
	} else {
		segs = strings.Split(p, ".")
	}
	for _, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("changes: field path %q has an empty segment: %w", p, apperr.ErrInvalidChange)
		}
	}
	return segs, nil
}

// GetPath returns the value at segs, and whether it exists.
func GetPath(root map[string]any, segs []string) (any, bool) {
	var cur any = root
	for _, s := range segs {
		switch c := cur.(type) {
		case map[string]any:
			v, ok := c[s]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(s)
			if err != nil || i < 0 || i >= len(c) {
				return nil, false
			}
			cur = c[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// SetPath sets the value at segs, creating missing intermediate maps.
// A nil value removes the map key or array element. In arrays, an index
// equal to the length or "-" appends.
func SetPath(root map[string]any, segs []string, value any) error {
	_, err := setIn(root, segs, value)
	return err
}

func setIn(cur any, segs []string, value any) (any, error) {
	seg, rest := segs[0], segs[1:]
	switch c := cur.(type) {
	case map[string]any:
		if len(rest) == 0 {
			if value == nil {
				delete(c, seg)
			} else {
				c[seg] = value
			}
			return c, nil
		}
		child, ok := c[seg]
		if !ok || child == nil {
			if value == nil {
				return c, nil
			}
			child = map[string]any{}
		}
		updated, err := setIn(child, rest, value)
		if err != nil {
			return nil, err
		}
		c[seg] = updated
		return c, nil
	case []any:
		i, err := index(seg, len(c))
		if err != nil {
			return nil, err
		}
		if len(rest) == 0 {
			switch {
			case value == nil && i < len(c):
				return append(c[:i], c[i+1:]...), nil
			case value == nil:
				return c, nil
			case i == len(c):
				return append(c, value), nil
			default:
				c[i] = value
				return c, nil
			}
		}
		if i == len(c) {
			if value == nil {
				return c, nil
			}
			c = append(c, map[string]any{})
		}
		updated, err := setIn(c[i], rest, value)
		if err != nil {
			return nil, err
		}
		c[i] = updated
		return c, nil
	default:
		return nil, fmt.Errorf("changes: cannot descend into %T at %q: %w", cur, seg, apperr.ErrInvalidChange)
	}
}

func index(seg string, n int) (int, error) {
	if seg == "-" {
		return n, nil
	}
	i, err := strconv.Atoi(seg)
	if err != nil || i < 0 || i > n {
		return 0, fmt.Errorf("changes: array index %q out of range [0,%d]: %w", seg, n, apperr.ErrInvalidChange)
	}
	return i, nil
}
