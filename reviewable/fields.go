package reviewable

import (
	"fmt"
	"sort"
)

type FieldType string

const (
	FieldText     FieldType = "text"
	FieldTitle    FieldType = "title"
	FieldCategory FieldType = "category"
	FieldTags     FieldType = "tags"
	FieldNumber   FieldType = "number"
)

// EditableField is a purely descriptive declaration of a field that may be
// changed before the reviewable is resolved.
type EditableField struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
	// Plugin fields live in Payload.Extra rather than a typed variant.
	Plugin bool `json:"plugin,omitempty"`
}

// EditableFields returns the type's declared fields while the reviewable is
// pending, and nothing once it is resolved.
func (c *Catalog) EditableFields(r *Reviewable) []EditableField {
	if r.Status != StatusPending {
		return nil
	}
	td, ok := c.types[r.Type]
	if !ok {
		return nil
	}
	return append([]EditableField(nil), td.Fields...)
}

func (c *Catalog) CanEdit(r *Reviewable) bool {
	return len(c.EditableFields(r)) > 0
}

// applyEdits writes changes into the payload, rejecting any name the type
// does not declare. Names are applied in sorted order so errors are stable.
func applyEdits(fields []EditableField, p *Payload, changes map[string]string) error {
	if len(changes) == 0 {
		return fmt.Errorf("%w: no fields to update", ErrValidation)
	}
	byName := make(map[string]EditableField, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}
	names := make([]string, 0, len(changes))
	for name := range changes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f, ok := byName[name]
		if !ok {
			return fmt.Errorf("%w: field %q is not editable", ErrValidation, name)
		}
		if err := p.setField(f, changes[name]); err != nil {
			return err
		}
	}
	return nil
}

// syncCategory copies an edited category field onto r.CategoryID, which is
// what guardian scoping and list filters read.
func syncCategory(fields []EditableField, r *Reviewable, changes map[string]string) {
	if r.Payload.Post == nil {
		return
	}
	for _, f := range fields {
		if f.Type != FieldCategory || f.Plugin {
			continue
		}
		if _, ok := changes[f.Name]; ok {
			id := r.Payload.Post.CategoryID
			r.CategoryID = &id
		}
	}
}
