package reviewable

import (
	"fmt"
	"strconv"
	"strings"
)

// PayloadKind tags which variant of Payload is populated.
type PayloadKind string

const (
	PayloadNone PayloadKind = ""
	PayloadPost PayloadKind = "post"
	PayloadUser PayloadKind = "user"
	PayloadFlag PayloadKind = "flag"
)

// Payload carries type-specific data for a reviewable. Exactly one of Post,
// User or Flag is set, matching Kind. Extra holds fields declared by
// plugins, which have no typed home.
type Payload struct {
	Kind  PayloadKind       `json:"kind,omitempty"`
	Post  *PostPayload      `json:"post,omitempty"`
	User  *UserPayload      `json:"user,omitempty"`
	Flag  *FlagPayload      `json:"flag,omitempty"`
	Extra map[string]string `json:"extra,omitempty"`
}

// PostPayload is queued content waiting to be published.
type PostPayload struct {
	Raw        string   `json:"raw"`
	Title      string   `json:"title,omitempty"`
	CategoryID int64    `json:"category_id,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// UserPayload is a signup awaiting approval, or a flagged account.
type UserPayload struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
}

// FlagPayload describes flagged, already-published content.
type FlagPayload struct {
	PostID  string `json:"post_id,omitempty"`
	Excerpt string `json:"excerpt,omitempty"`
}

func (p Payload) Validate() error {
	set := 0
	if p.Post != nil {
		set++
	}
	if p.User != nil {
		set++
	}
	if p.Flag != nil {
		set++
	}
	if set > 1 {
		return fmt.Errorf("%w: payload has more than one variant set", ErrValidation)
	}
	switch p.Kind {
	case PayloadNone:
		if set != 0 {
			return fmt.Errorf("%w: payload variant set without kind", ErrValidation)
		}
	case PayloadPost:
		if p.Post == nil {
			return fmt.Errorf("%w: post payload missing", ErrValidation)
		}
	case PayloadUser:
		if p.User == nil {
			return fmt.Errorf("%w: user payload missing", ErrValidation)
		}
	case PayloadFlag:
		if p.Flag == nil {
			return fmt.Errorf("%w: flag payload missing", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown payload kind %q", ErrValidation, p.Kind)
	}
	return nil
}

func (p Payload) Clone() Payload {
	out := Payload{Kind: p.Kind}
	if p.Post != nil {
		v := *p.Post
		v.Tags = append([]string(nil), p.Post.Tags...)
		out.Post = &v
	}
	if p.User != nil {
		v := *p.User
		out.User = &v
	}
	if p.Flag != nil {
		v := *p.Flag
		out.Flag = &v
	}
	if len(p.Extra) > 0 {
		out.Extra = make(map[string]string, len(p.Extra))
		for k, v := range p.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// setField writes one editable field into the payload. Fields are looked up
// by name in the typed variant first, then in the plugin side-map when the
// field is declared as a plugin field.
func (p *Payload) setField(field EditableField, value string) error {
	if field.Plugin {
		if p.Extra == nil {
			p.Extra = make(map[string]string)
		}
		p.Extra[field.Name] = value
		return nil
	}
	if p.Post == nil {
		return fmt.Errorf("%w: field %q needs a post payload", ErrValidation, field.Name)
	}
	switch field.Name {
	case "raw":
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: raw must not be empty", ErrValidation)
		}
		p.Post.Raw = value
	case "title":
		p.Post.Title = value
	case "category_id":
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("%w: invalid category_id %q", ErrValidation, value)
		}
		p.Post.CategoryID = id
	case "tags":
		var tags []string
		for _, t := range strings.Split(value, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				tags = append(tags, t)
			}
		}
		p.Post.Tags = tags
	default:
		return fmt.Errorf("%w: field %q has no payload slot", ErrValidation, field.Name)
	}
	return nil
}
