package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Path addresses one key in the parameter tree, e.g. ["etl", "min_price"].
type Path []string

var keySegmentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// ParsePath splits a dotted key expression into a Path.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return nil, fmt.Errorf("empty key path")
	}
	segs := strings.Split(s, ".")
	for _, seg := range segs {
		if !keySegmentRe.MatchString(seg) {
			return nil, fmt.Errorf("invalid key path %q: segment %q is not a valid identifier", s, seg)
		}
	}
	return Path(segs), nil
}

// String renders the path back to dotted form.
func (p Path) String() string { return strings.Join(p, ".") }

// HasPrefix reports whether the path starts with the given prefix.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i, seg := range prefix {
		if p[i] != seg {
			return false
		}
	}
	return true
}

// Tree is an immutable parameter tree backed by a cty object value. All
// mutating operations return a new Tree, so a resolved tree can be shared
// across concurrently running sweep points.
type Tree struct {
	root       cty.Value
	extensible []Path
}

// NewTree wraps a cty object value as a Tree.
func NewTree(root cty.Value, extensible []Path) (*Tree, error) {
	if root == cty.NilVal {
		root = cty.EmptyObjectVal
	}
	if !root.Type().IsObjectType() && !root.Type().IsMapType() {
		return nil, fmt.Errorf("parameter tree root must be a mapping, got %s", root.Type().FriendlyName())
	}
	return &Tree{root: root, extensible: extensible}, nil
}

// EmptyTree returns a tree with no keys.
func EmptyTree() *Tree {
	return &Tree{root: cty.EmptyObjectVal}
}

// Root exposes the underlying cty value, used as the `config` variable when
// evaluating pipeline expressions.
func (t *Tree) Root() cty.Value { return t.root }

// Extensible returns the subtree prefixes under which overrides may create
// new keys.
func (t *Tree) Extensible() []Path { return t.extensible }

// Get walks the tree and returns the value at the given path.
func (t *Tree) Get(p Path) (cty.Value, error) {
	cur := t.root
	for i, seg := range p {
		if !cur.Type().IsObjectType() && !cur.Type().IsMapType() {
			return cty.NilVal, fmt.Errorf("key %q: %q is not a mapping", p.String(), Path(p[:i]).String())
		}
		attrs := cur.AsValueMap()
		next, ok := attrs[seg]
		if !ok {
			return cty.NilVal, &UnknownKeyError{Path: p}
		}
		cur = next
	}
	return cur, nil
}

// Has reports whether the path exists in the tree.
func (t *Tree) Has(p Path) bool {
	_, err := t.Get(p)
	return err == nil
}

// Set returns a copy of the tree with the value at the given path replaced.
// Paths that do not already exist are rejected with UnknownKeyError unless
// an extensible prefix covers them. When the existing leaf has a concrete
// type, the new value is converted to it so the tree keeps a stable shape
// across override layers.
func (t *Tree) Set(p Path, v cty.Value) (*Tree, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("empty key path")
	}
	canCreate := t.allowsCreate(p)
	root, err := setValue(t.root, p, v, canCreate)
	if err != nil {
		return nil, err
	}
	return &Tree{root: root, extensible: t.extensible}, nil
}

// Snapshot converts the tree into plain Go values for persistence in run
// records.
func (t *Tree) Snapshot() map[string]any {
	native := ToNative(t.root)
	if m, ok := native.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func (t *Tree) allowsCreate(p Path) bool {
	for _, e := range t.extensible {
		if p.HasPrefix(e) {
			return true
		}
	}
	return false
}

func setValue(node cty.Value, p Path, v cty.Value, canCreate bool) (cty.Value, error) {
	if !node.Type().IsObjectType() && !node.Type().IsMapType() {
		return cty.NilVal, fmt.Errorf("cannot descend into non-mapping value while setting %q", p.String())
	}
	attrs := copyAttrs(node)
	key := p[0]

	if len(p) == 1 {
		existing, ok := attrs[key]
		if !ok && !canCreate {
			return cty.NilVal, &UnknownKeyError{Path: p}
		}
		attrs[key] = coerceToExisting(existing, ok, v)
		return cty.ObjectVal(attrs), nil
	}

	child, ok := attrs[key]
	if !ok {
		if !canCreate {
			return cty.NilVal, &UnknownKeyError{Path: p}
		}
		child = cty.EmptyObjectVal
	}
	newChild, err := setValue(child, p[1:], v, canCreate)
	if err != nil {
		if uke, isUnknown := err.(*UnknownKeyError); isUnknown {
			return cty.NilVal, &UnknownKeyError{Path: append(Path{key}, uke.Path...)}
		}
		return cty.NilVal, err
	}
	attrs[key] = newChild
	return cty.ObjectVal(attrs), nil
}

// coerceToExisting nudges the incoming value toward the type already stored
// at the key, so overriding `min_price = 10` with "15" keeps it a number.
// Structural replacements (objects, lists) and incompatible scalars pass
// through unchanged and surface later at decode time.
func coerceToExisting(existing cty.Value, hasExisting bool, v cty.Value) cty.Value {
	if !hasExisting || existing.IsNull() || v.IsNull() {
		return v
	}
	want := existing.Type()
	if want == cty.DynamicPseudoType || v.Type().Equals(want) || !want.IsPrimitiveType() {
		return v
	}
	if converted, err := convert.Convert(v, want); err == nil {
		return converted
	}
	return v
}

func copyAttrs(node cty.Value) map[string]cty.Value {
	attrs := make(map[string]cty.Value)
	if node.IsNull() {
		return attrs
	}
	for k, v := range node.AsValueMap() {
		attrs[k] = v
	}
	return attrs
}
