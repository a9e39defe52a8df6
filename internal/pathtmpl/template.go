// Package pathtmpl builds and parses document paths from templates with
// named placeholders, such as "/app/grid:{gridName}/cell:{x}-{y}.json".
package pathtmpl

import (
	"fmt"
	"regexp"
	"strings"
)

// TemplateError reports a template that cannot be parsed or a path that
// cannot be built from it.
type TemplateError struct {
	Template string
	Variable string
	Reason   string
}

func (e *TemplateError) Error() string {
	if e.Variable != "" {
		return fmt.Sprintf("template %q: variable %q: %s", e.Template, e.Variable, e.Reason)
	}
	return fmt.Sprintf("template %q: %s", e.Template, e.Reason)
}

type part struct {
	literal string
	name    string // set for placeholders
}

func (p part) isVar() bool { return p.name != "" }

// Template is a parsed path template. It is immutable and safe for
// concurrent use.
type Template struct {
	raw   string
	parts []part
	re    *regexp.Regexp
}

var nameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Parse parses a template. Placeholders are written {name}; two placeholders
// may not be adjacent since the boundary between them would be ambiguous.
func Parse(template string) (*Template, error) {
	var parts []part
	seen := make(map[string]bool)
	rest := template
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		closeIdx := strings.IndexByte(rest, '}')
		if open < 0 {
			if closeIdx >= 0 {
				return nil, &TemplateError{Template: template, Reason: "unbalanced '}'"}
			}
			parts = append(parts, part{literal: rest})
			break
		}
		if closeIdx >= 0 && closeIdx < open {
			return nil, &TemplateError{Template: template, Reason: "unbalanced '}'"}
		}
		if open > 0 {
			parts = append(parts, part{literal: rest[:open]})
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return nil, &TemplateError{Template: template, Reason: "unbalanced '{'"}
		}
		name := rest[open+1 : open+end]
		if !nameRE.MatchString(name) {
			return nil, &TemplateError{Template: template, Variable: name, Reason: "invalid placeholder name"}
		}
		if seen[name] {
			return nil, &TemplateError{Template: template, Variable: name, Reason: "duplicate placeholder"}
		}
		if n := len(parts); n > 0 && parts[n-1].isVar() {
			return nil, &TemplateError{Template: template, Variable: name, Reason: "adjacent placeholders"}
		}
		seen[name] = true
		parts = append(parts, part{name: name})
		rest = rest[open+end+1:]
	}
	return newTemplate(template, parts), nil
}

// MustParse is like Parse but panics on error. It is meant for templates
// that are constants of the program.
func MustParse(template string) *Template {
	t, err := Parse(template)
	if err != nil {
		panic(err)
	}
	return t
}

func newTemplate(raw string, parts []part) *Template {
	var b strings.Builder
	b.WriteByte('^')
	for _, p := range parts {
		if p.isVar() {
			b.WriteString("(?P<" + p.name + ">[^/]+?)")
		} else {
			b.WriteString(regexp.QuoteMeta(p.literal))
		}
	}
	b.WriteByte('$')
	return &Template{raw: raw, parts: parts, re: regexp.MustCompile(b.String())}
}

// String returns the template text.
func (t *Template) String() string { return t.raw }

// Variables returns the placeholder names in order of appearance.
func (t *Template) Variables() []string {
	var names []string
	for _, p := range t.parts {
		if p.isVar() {
			names = append(names, p.name)
		}
	}
	return names
}

// Fill substitutes the placeholders present in vars and returns the narrower
// template. Placeholders absent from vars are kept.
func (t *Template) Fill(vars map[string]string) (*Template, error) {
	var (
		parts []part
		raw   strings.Builder
	)
	for i, p := range t.parts {
		if !p.isVar() {
			parts = appendLiteral(parts, p.literal)
			raw.WriteString(p.literal)
			continue
		}
		v, ok := vars[p.name]
		if !ok {
			parts = append(parts, p)
			raw.WriteString("{" + p.name + "}")
			continue
		}
		if err := t.checkValue(i, v); err != nil {
			return nil, err
		}
		parts = appendLiteral(parts, v)
		raw.WriteString(v)
	}
	narrow := newTemplate(raw.String(), parts)
	// Kept placeholders stand in for themselves: the original template must
	// read back its filled values and the untouched "{name}" text.
	want := make(map[string]string, len(t.parts))
	for _, p := range t.parts {
		if !p.isVar() {
			continue
		}
		if v, ok := vars[p.name]; ok {
			want[p.name] = v
		} else {
			want[p.name] = "{" + p.name + "}"
		}
	}
	if err := t.checkRecoverable(narrow.raw, want); err != nil {
		return nil, err
	}
	return narrow, nil
}

func appendLiteral(parts []part, s string) []part {
	if n := len(parts); n > 0 && !parts[n-1].isVar() {
		parts[n-1].literal += s
		return parts
	}
	return append(parts, part{literal: s})
}

// checkValue rejects values that would make the built path unparseable.
func (t *Template) checkValue(i int, v string) error {
	p := t.parts[i]
	switch {
	case v == "":
		return &TemplateError{Template: t.raw, Variable: p.name, Reason: "empty value"}
	case strings.ContainsRune(v, '/'):
		return &TemplateError{Template: t.raw, Variable: p.name, Reason: "value contains '/'"}
	case strings.ContainsAny(v, "{}"):
		return &TemplateError{Template: t.raw, Variable: p.name, Reason: "value contains a brace"}
	}
	if i+1 < len(t.parts) {
		next := t.parts[i+1].literal
		if seg, _, _ := strings.Cut(next, "/"); seg != "" && strings.Contains(v, seg) {
			return &TemplateError{Template: t.raw, Variable: p.name, Reason: fmt.Sprintf("value contains separator %q", seg)}
		}
	}
	return nil
}

// Build returns the concrete path for vars. Every placeholder must have a
// value.
func (t *Template) Build(vars map[string]string) (string, error) {
	var b strings.Builder
	for i, p := range t.parts {
		if !p.isVar() {
			b.WriteString(p.literal)
			continue
		}
		v, ok := vars[p.name]
		if !ok {
			return "", &TemplateError{Template: t.raw, Variable: p.name, Reason: "missing value"}
		}
		if err := t.checkValue(i, v); err != nil {
			return "", err
		}
		b.WriteString(v)
	}
	path := b.String()
	if err := t.checkRecoverable(path, vars); err != nil {
		return "", err
	}
	return path, nil
}

// checkRecoverable rejects a built path that Extract would split
// differently, which happens when a value ends with the start of the literal
// that follows it.
func (t *Template) checkRecoverable(path string, vars map[string]string) error {
	got, ok := t.Extract(path)
	if !ok {
		return &TemplateError{Template: t.raw, Reason: "value makes path unparseable"}
	}
	for _, p := range t.parts {
		if p.isVar() && got[p.name] != vars[p.name] {
			return &TemplateError{Template: t.raw, Variable: p.name, Reason: "value makes path ambiguous"}
		}
	}
	return nil
}

// Extract returns the placeholder values of path. It reports false when the
// path does not have the template's shape.
func (t *Template) Extract(path string) (map[string]string, bool) {
	m := t.re.FindStringSubmatch(path)
	if m == nil {
		return nil, false
	}
	vars := make(map[string]string, len(m)-1)
	for i, name := range t.re.SubexpNames() {
		if name != "" {
			vars[name] = m[i]
		}
	}
	return vars, true
}

// Match reports whether path has the template's shape.
func (t *Template) Match(path string) bool {
	return t.re.MatchString(path)
}

// LiteralPrefix returns the fixed text before the first placeholder. Stores
// use it to narrow a scan before matching.
func (t *Template) LiteralPrefix() string {
	if len(t.parts) == 0 || t.parts[0].isVar() {
		return ""
	}
	return t.parts[0].literal
}

// Build parses template and builds a path from vars.
func Build(template string, vars map[string]string) (string, error) {
	t, err := Parse(template)
	if err != nil {
		return "", err
	}
	return t.Build(vars)
}

// Extract parses template and extracts the variables of path. An invalid
// template never matches.
func Extract(template, path string) (map[string]string, bool) {
	t, err := Parse(template)
	if err != nil {
		return nil, false
	}
	return t.Extract(path)
}
