package dom

import (
	"math"
	"strconv"
	"strings"

	"github.com/dop251/goja"
	"github.com/serenize/snaker"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func camelCase(s string) string {
	if idx := strings.Index(s, "-"); idx != -1 {
		return s[0:idx] + snaker.SnakeToCamel(strings.ReplaceAll(s[idx+1:], "-", "_"))
	}
	return s
}

func cssName(property string) string {
	if strings.Contains(property, "-") {
		return strings.ToLower(property)
	}
	return strings.ReplaceAll(snaker.CamelToSnake(property), "_", "-")
}

type declaration struct {
	name  string
	value string
}

func parseStyle(s string) []declaration {
	var out []declaration
	for _, part := range strings.Split(s, ";") {
		name, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if name == "" {
			continue
		}
		out = append(out, declaration{name: name, value: value})
	}
	return out
}

func formatStyle(decls []declaration) string {
	parts := make([]string, len(decls))
	for i, d := range decls {
		parts[i] = d.name + ": " + d.value + ";"
	}
	return strings.Join(parts, " ")
}

// StyleProperty returns the inline style value of name (CSS syntax) on n.
func StyleProperty(n *html.Node, name string) string {
	style, _ := getAttr(n, "style")
	value := ""
	for _, decl := range parseStyle(style) {
		if decl.name == name {
			value = decl.value
		}
	}
	return value
}

// SetStyleProperty sets, or with an empty value removes, an inline style
// declaration on n.
func SetStyleProperty(n *html.Node, name, value string) {
	style, _ := getAttr(n, "style")
	decls := parseStyle(style)
	out := decls[:0]
	replaced := false
	for _, decl := range decls {
		if decl.name != name {
			out = append(out, decl)
			continue
		}
		if value != "" && !replaced {
			out = append(out, declaration{name: name, value: value})
			replaced = true
		}
	}
	if value != "" && !replaced {
		out = append(out, declaration{name: name, value: value})
	}
	if len(out) == 0 {
		removeAttr(n, "style")
		return
	}
	setAttr(n, "style", formatStyle(out))
}

// styleObject is element.style: a live view of the style attribute where
// camelCase properties map to CSS declarations.
type styleObject struct {
	d       *Document
	n       *html.Node
	methods map[string]goja.Value
}

func (d *Document) newStyle(n *html.Node) *goja.Object {
	vm := d.vm
	s := &styleObject{d: d, n: n}
	s.methods = map[string]goja.Value{
		"getPropertyValue": vm.ToValue(func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(StyleProperty(n, strings.ToLower(call.Argument(0).String())))
		}),
		"setProperty": vm.ToValue(func(call goja.FunctionCall) goja.Value {
			value := ""
			if v := call.Argument(1); !isAbsent(v) {
				value = v.String()
			}
			SetStyleProperty(n, strings.ToLower(call.Argument(0).String()), value)
			return goja.Undefined()
		}),
		"removeProperty": vm.ToValue(func(call goja.FunctionCall) goja.Value {
			name := strings.ToLower(call.Argument(0).String())
			old := StyleProperty(n, name)
			SetStyleProperty(n, name, "")
			return vm.ToValue(old)
		}),
	}
	return vm.NewDynamicObject(s)
}

func (s *styleObject) Get(key string) goja.Value {
	if m, ok := s.methods[key]; ok {
		return m
	}
	switch key {
	case "cssText":
		style, _ := getAttr(s.n, "style")
		return s.d.vm.ToValue(formatStyle(parseStyle(style)))
	case "length":
		style, _ := getAttr(s.n, "style")
		return s.d.vm.ToValue(len(parseStyle(style)))
	case "constructor", "toString", "valueOf", "toJSON", "then":
		return nil
	}
	return s.d.vm.ToValue(StyleProperty(s.n, cssName(key)))
}

func (s *styleObject) Set(key string, val goja.Value) bool {
	if _, ok := s.methods[key]; ok {
		return false
	}
	value := ""
	if !isAbsent(val) {
		value = val.String()
	}
	if key == "cssText" {
		if value == "" {
			removeAttr(s.n, "style")
		} else {
			setAttr(s.n, "style", formatStyle(parseStyle(value)))
		}
		return true
	}
	SetStyleProperty(s.n, cssName(key), value)
	return true
}

func (s *styleObject) Has(key string) bool {
	if _, ok := s.methods[key]; ok {
		return true
	}
	return key == "cssText" || StyleProperty(s.n, cssName(key)) != ""
}

func (s *styleObject) Delete(key string) bool {
	SetStyleProperty(s.n, cssName(key), "")
	return true
}

func (s *styleObject) Keys() []string {
	style, _ := getAttr(s.n, "style")
	decls := parseStyle(style)
	keys := make([]string, len(decls))
	for i, decl := range decls {
		keys[i] = camelCase(decl.name)
	}
	return keys
}

// computedStyle is the read-only result of getComputedStyle: inline
// declarations plus resolved pixel dimensions.
type computedStyle struct {
	d *Document
	n *html.Node
}

func (d *Document) computedStyle(n *html.Node) *goja.Object {
	return d.vm.NewDynamicObject(&computedStyle{d: d, n: n})
}

func (c *computedStyle) Get(key string) goja.Value {
	vm := c.d.vm
	if key == "getPropertyValue" {
		return vm.ToValue(func(call goja.FunctionCall) goja.Value {
			return c.Get(camelCase(strings.ToLower(call.Argument(0).String())))
		})
	}
	switch cssName(key) {
	case "width":
		return vm.ToValue(formatPx(c.d.Width(c.n)))
	case "height":
		return vm.ToValue(formatPx(c.d.Height(c.n)))
	case "display":
		if v := StyleProperty(c.n, "display"); v != "" {
			return vm.ToValue(v)
		}
		return vm.ToValue("block")
	}
	return vm.ToValue(StyleProperty(c.n, cssName(key)))
}

func (c *computedStyle) Set(string, goja.Value) bool { return false }
func (c *computedStyle) Has(key string) bool         { return true }
func (c *computedStyle) Delete(string) bool          { return false }
func (c *computedStyle) Keys() []string              { return nil }

func formatPx(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "px"
}

// length parses a CSS length. Percentages report pct=true.
func length(s string) (v float64, pct bool, ok bool) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasSuffix(s, "px"):
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "px")), 64)
		return f, false, err == nil
	case strings.HasSuffix(s, "%"):
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
		return f, true, err == nil
	case s == "0":
		return 0, false, true
	}
	return 0, false, false
}

func hidden(n *html.Node) bool {
	return StyleProperty(n, "display") == "none"
}

// Width resolves the width of n from inline styles: pixel widths are used
// as is, percentages resolve against the parent, and the root elements take
// the window width. Other block elements fill their parent.
func (d *Document) Width(n *html.Node) float64 {
	if n == nil || n.Type != html.ElementNode || hidden(n) {
		return 0
	}
	if v, pct, ok := length(StyleProperty(n, "width")); ok {
		if pct {
			return v * d.containerWidth(n) / 100
		}
		return v
	}
	if n.DataAtom == atom.Html || n.DataAtom == atom.Body {
		return d.innerWidth
	}
	return d.containerWidth(n)
}

func (d *Document) containerWidth(n *html.Node) float64 {
	switch {
	case n.Parent == nil:
		return 0
	case n.Parent.Type == html.DocumentNode:
		return d.innerWidth
	}
	return d.Width(n.Parent)
}

// Height resolves the height of n. Without an explicit height only the root
// elements have one.
func (d *Document) Height(n *html.Node) float64 {
	if n == nil || n.Type != html.ElementNode || hidden(n) {
		return 0
	}
	if v, pct, ok := length(StyleProperty(n, "height")); ok {
		if pct {
			parent := 0.0
			if n.Parent != nil && n.Parent.Type == html.DocumentNode {
				parent = d.innerHeight
			} else if n.Parent != nil {
				parent = d.Height(n.Parent)
			}
			return v * parent / 100
		}
		return v
	}
	if n.DataAtom == atom.Html || n.DataAtom == atom.Body {
		return d.innerHeight
	}
	return 0
}

func (d *Document) defineGeometry(proto *goja.Object) {
	vm := d.vm
	dimension := func(name string, get func(n *html.Node) float64) {
		d.accessor(proto, name, func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(int64(math.Round(get(d.mustElement(call.This)))))
		}, nil)
	}
	dimension("clientWidth", d.Width)
	dimension("clientHeight", d.Height)
	dimension("offsetWidth", d.Width)
	dimension("offsetHeight", d.Height)

	_ = proto.Set("getBoundingClientRect", func(call goja.FunctionCall) goja.Value {
		n := d.mustElement(call.This)
		w, h := d.Width(n), d.Height(n)
		rect := vm.NewObject()
		for name, v := range map[string]float64{
			"x": 0, "y": 0, "left": 0, "top": 0,
			"width": w, "height": h, "right": w, "bottom": h,
		} {
			_ = rect.Set(name, v)
		}
		return rect
	})
}
