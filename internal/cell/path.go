package cell

import (
	"strconv"

	"github.com/bodul/wafflegram/internal/pathtmpl"
)

// DefaultNamespace is the top-level path segment of wafflegram documents.
const DefaultNamespace = "wafflegram-v1"

// Placeholder names used by the cell templates.
const (
	VarGrid = "gridName"
	VarX    = "x"
	VarY    = "y"
)

// Template returns the template matching every cell document of every grid
// in the namespace.
func Template(namespace string) *pathtmpl.Template {
	return pathtmpl.MustParse("/" + namespace + "/grid:{" + VarGrid + "}/cell:{" + VarX + "}-{" + VarY + "}.json")
}

// GridTemplate narrows Template to the cells of one grid.
func GridTemplate(namespace, grid string) (*pathtmpl.Template, error) {
	return Template(namespace).Fill(map[string]string{VarGrid: grid})
}

// Path returns the document path of the cell at (x, y).
func Path(namespace, grid string, x, y int) (string, error) {
	return Template(namespace).Build(map[string]string{
		VarGrid: grid,
		VarX:    strconv.Itoa(x),
		VarY:    strconv.Itoa(y),
	})
}

// ConfigPath returns the document path of a grid's stored dimensions.
func ConfigPath(namespace, grid string) (string, error) {
	return pathtmpl.MustParse("/"+namespace+"/grid:{"+VarGrid+"}/config.json").Build(map[string]string{VarGrid: grid})
}

// Location is a cell address decoded from a document path.
type Location struct {
	Grid string
	X, Y int
}

// ParsePath decodes a cell document path. It reports false for paths of
// another shape and for coordinates that are not canonical integers.
func ParsePath(tmpl *pathtmpl.Template, path string) (Location, bool) {
	vars, ok := tmpl.Extract(path)
	if !ok {
		return Location{}, false
	}
	x, ok := ParseCoordinate(vars[VarX])
	if !ok {
		return Location{}, false
	}
	y, ok := ParseCoordinate(vars[VarY])
	if !ok {
		return Location{}, false
	}
	return Location{Grid: vars[VarGrid], X: x, Y: y}, true
}

// ParseCoordinate parses a base-10 non-negative integer written without
// sign or leading zeros.
func ParseCoordinate(s string) (int, bool) {
	if s == "" || len(s) > 9 {
		return 0, false
	}
	if len(s) > 1 && s[0] == '0' {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
