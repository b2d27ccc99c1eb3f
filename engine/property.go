package engine

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/kbukum/iceflow/errors"
	"github.com/kbukum/iceflow/logger"
	"github.com/kbukum/iceflow/media"
)

// SetProperty sets a property of the element behind h. See
// normalizeProperty for the accepted name forms.
func (p *Pipeline) SetProperty(h Handle, name string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setPropertyLocked(h, name, value)
}

func (p *Pipeline) setPropertyLocked(h Handle, name string, value any) error {
	e, err := p.elementLocked(h)
	if err != nil {
		return err
	}

	if name == "location" && e.typ == "filesrc" {
		path, ok := value.(string)
		if !ok {
			return errors.InvalidPropertyTarget(name, fmt.Sprintf("expected a path, got %T", value))
		}
		if fi, err := os.Stat(path); err != nil || !fi.Mode().IsRegular() {
			return errors.InvalidPropertyTarget(name, "no such file: "+path)
		}
	}
	value, err = convertValue(name, value)
	if err != nil {
		return err
	}

	target, prop, err := resolveTarget(e.el, name)
	if err != nil {
		return err
	}
	if err := target.SetProperty(prop, value); err != nil {
		return errors.InvalidInput(prop, err.Error())
	}
	p.log.Debug("property set", logger.Fields(logger.FieldElement, e.el.Name(), logger.FieldProperty, prop))
	return nil
}

// GetProperty returns a property as a bool, a float64 for numeric values,
// or a string.
func (p *Pipeline) GetProperty(h Handle, name string) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, err := p.elementLocked(h)
	if err != nil {
		return nil, err
	}
	target, prop, err := resolveTarget(e.el, name)
	if err != nil {
		return nil, err
	}
	v, err := target.Property(prop)
	if err != nil {
		return nil, errors.InvalidInput(prop, err.Error())
	}
	return exportValue(v), nil
}

// normalizeProperty strips one leading underscore, turns underscores
// into hyphens and splits an optional "childIndex:" prefix.
func normalizeProperty(name string) (child int, prop string, err error) {
	name = strings.TrimPrefix(name, "_")
	name = strings.ReplaceAll(name, "_", "-")
	idx, rest, ok := strings.Cut(name, ":")
	if !ok {
		return -1, name, nil
	}
	child, err = strconv.Atoi(idx)
	if err != nil || child < 0 {
		return 0, "", errors.InvalidInput("property", "bad child index in "+name)
	}
	return child, rest, nil
}

func resolveTarget(el media.Element, name string) (media.Element, string, error) {
	child, prop, err := normalizeProperty(name)
	if err != nil {
		return nil, "", err
	}
	if child < 0 {
		return el, prop, nil
	}
	c, err := el.Child(child)
	if err != nil {
		return nil, "", errors.InvalidInput("property", err.Error())
	}
	return c, prop, nil
}

// convertValue turns caps strings into caps and maps into structures.
func convertValue(name string, value any) (any, error) {
	if name == "caps" {
		if s, ok := value.(string); ok {
			c, err := media.ParseCaps(s)
			if err != nil {
				return nil, errors.InvalidInput("caps", err.Error())
			}
			return c, nil
		}
	}
	if m, ok := value.(map[string]any); ok {
		return media.NewStructure("params", m), nil
	}
	return value, nil
}

func exportValue(v any) any {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case media.Caps:
		return x.String()
	case *media.Structure:
		if x == nil {
			return ""
		}
		return x.Format()
	case string:
		if f, err := strconv.ParseFloat(x, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			return f
		}
		return x
	default:
		return fmt.Sprint(x)
	}
}
