package reviewable

import (
	"fmt"
	"sort"
)

// ActionDef declares one action a reviewable type offers.
type ActionDef struct {
	Action
	// Bundle is the BundleDef ID the action is presented under. Empty means
	// the action forms a bundle of its own.
	Bundle string
	// Guard narrows applicability beyond the transition table; nil allows.
	Guard func(r *Reviewable) bool
}

type BundleDef struct {
	ID    string
	Icon  string
	Label string
}

// TypeDef is the static declaration of a reviewable type: its actions,
// editable fields, payload variant and claim policy.
type TypeDef struct {
	Name          string
	PayloadKind   PayloadKind
	ClaimRequired bool
	Bundles       []BundleDef
	Actions       []ActionDef
	Fields        []EditableField
}

func (td *TypeDef) action(id string) (ActionDef, bool) {
	for _, a := range td.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return ActionDef{}, false
}

// Catalog is the registry of reviewable types. It is built once at startup
// and read-only afterwards.
type Catalog struct {
	types map[string]*TypeDef
}

func NewCatalog(defs ...TypeDef) (*Catalog, error) {
	c := &Catalog{types: make(map[string]*TypeDef, len(defs))}
	for _, def := range defs {
		if err := c.RegisterType(def); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RegisterType adds a type, eg one contributed by a plugin. It must be
// called before the catalog is handed to a Service.
func (c *Catalog) RegisterType(def TypeDef) error {
	if def.Name == "" {
		return fmt.Errorf("reviewable type with empty name")
	}
	if _, ok := c.types[def.Name]; ok {
		return fmt.Errorf("reviewable type %q registered twice", def.Name)
	}
	bundles := make(map[string]bool, len(def.Bundles))
	for _, b := range def.Bundles {
		bundles[b.ID] = true
	}
	seen := make(map[string]bool, len(def.Actions))
	for _, a := range def.Actions {
		if a.ID == "" {
			return fmt.Errorf("type %q: action with empty id", def.Name)
		}
		if seen[a.ID] {
			return fmt.Errorf("type %q: duplicate action %q", def.Name, a.ID)
		}
		seen[a.ID] = true
		if !knownVerb(a.Verb) {
			return fmt.Errorf("type %q: action %q has unknown verb %q", def.Name, a.ID, a.Verb)
		}
		if a.Bundle != "" && !bundles[a.Bundle] {
			return fmt.Errorf("type %q: action %q references unknown bundle %q", def.Name, a.ID, a.Bundle)
		}
	}
	fields := make(map[string]bool, len(def.Fields))
	for _, f := range def.Fields {
		if fields[f.Name] {
			return fmt.Errorf("type %q: duplicate editable field %q", def.Name, f.Name)
		}
		fields[f.Name] = true
	}
	d := def
	c.types[def.Name] = &d
	return nil
}

func (c *Catalog) Type(name string) (*TypeDef, bool) {
	td, ok := c.types[name]
	return td, ok
}

func (c *Catalog) TypeNames() []string {
	out := make([]string, 0, len(c.types))
	for name := range c.types {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup finds an action by id on a type. Unknown types or action ids are
// validation errors.
func (c *Catalog) Lookup(typeName, actionID string) (*TypeDef, ActionDef, error) {
	td, ok := c.types[typeName]
	if !ok {
		return nil, ActionDef{}, fmt.Errorf("%w: unknown reviewable type %q", ErrValidation, typeName)
	}
	a, ok := td.action(actionID)
	if !ok {
		return nil, ActionDef{}, fmt.Errorf("%w: unknown action %q for type %q", ErrValidation, actionID, typeName)
	}
	return td, a, nil
}

// Applicable returns the type's actions valid for the reviewable's current
// status, before any authorization.
func (c *Catalog) Applicable(r *Reviewable) []ActionDef {
	td, ok := c.types[r.Type]
	if !ok {
		return nil
	}
	var out []ActionDef
	for _, a := range td.Actions {
		if !CanTransition(r.Status, a.Verb) {
			continue
		}
		if a.Guard != nil && !a.Guard(r) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Bundle groups resolved actions by the type's bundle declarations, keeping
// declaration order.
func (td *TypeDef) Bundle(actions []ActionDef) []BundledAction {
	var out []BundledAction
	index := make(map[string]int)
	for _, a := range actions {
		key := a.Bundle
		if key == "" {
			key = a.ID
		}
		i, ok := index[key]
		if !ok {
			b := BundledAction{ID: key, Icon: a.Icon, Label: a.Label}
			for _, bd := range td.Bundles {
				if bd.ID == key {
					b.Icon = bd.Icon
					b.Label = bd.Label
				}
			}
			out = append(out, b)
			i = len(out) - 1
			index[key] = i
		}
		out[i].Actions = append(out[i].Actions, a.Action)
	}
	return out
}
