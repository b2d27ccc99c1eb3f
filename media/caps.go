package media

import (
	"fmt"
	"strconv"
	"strings"
)

// Caps describes a media format: a media type plus ordered fields.
//
//	video/x-raw, format=RGB, width=320, height=240
type Caps struct {
	Media  string
	fields [][2]string
}

// ParseCaps parses the textual caps form. Field values may carry a
// "(type)" prefix, which is dropped.
func ParseCaps(s string) (Caps, error) {
	parts := strings.Split(s, ",")
	media := strings.TrimSpace(parts[0])
	if media == "" || !strings.Contains(media, "/") && media != "ANY" {
		return Caps{}, fmt.Errorf("media: invalid caps %q", s)
	}

	c := Caps{Media: media}
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return Caps{}, fmt.Errorf("media: invalid caps field %q", p)
		}
		v = strings.TrimSpace(v)
		if strings.HasPrefix(v, "(") {
			if i := strings.IndexByte(v, ')'); i > 0 {
				v = v[i+1:]
			}
		}
		c.fields = append(c.fields, [2]string{strings.TrimSpace(k), v})
	}
	return c, nil
}

// MustParseCaps is ParseCaps for constants.
func MustParseCaps(s string) Caps {
	c, err := ParseCaps(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Field returns the raw value of a field.
func (c Caps) Field(name string) (string, bool) {
	for _, f := range c.fields {
		if f[0] == name {
			return f[1], true
		}
	}
	return "", false
}

// Int returns an integer field.
func (c Caps) Int(name string) (int, bool) {
	v, ok := c.Field(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

// IsEmpty reports whether c is the zero value.
func (c Caps) IsEmpty() bool { return c.Media == "" }

func (c Caps) String() string {
	var b strings.Builder
	b.WriteString(c.Media)
	for _, f := range c.fields {
		b.WriteString(", ")
		b.WriteString(f[0])
		b.WriteByte('=')
		b.WriteString(f[1])
	}
	return b.String()
}

// Merge returns c with the fields of o that c lacks appended. The media
// type of c wins unless c is empty.
func (c Caps) Merge(o Caps) Caps {
	if c.IsEmpty() {
		return o
	}
	out := Caps{Media: c.Media, fields: append([][2]string(nil), c.fields...)}
	for _, f := range o.fields {
		if _, ok := c.Field(f[0]); !ok {
			out.fields = append(out.fields, f)
		}
	}
	return out
}
