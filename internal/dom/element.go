package dom

import (
	"errors"
	"strings"

	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// formState holds the dirty value and checkedness of form controls.
type formState struct {
	value   *string
	checked *bool
}

func (d *Document) form(n *html.Node) *formState {
	f, ok := d.forms[n]
	if !ok {
		f = &formState{}
		d.forms[n] = f
	}
	return f
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode || n.Type == html.CommentNode {
		return n.Data
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				sb.WriteString(c.Data)
			} else if c.Type == html.ElementNode {
				walk(c)
			}
		}
	}
	walk(n)
	return sb.String()
}

func setTextContent(n *html.Node, text string) {
	if n.Type == html.TextNode || n.Type == html.CommentNode {
		n.Data = text
		return
	}
	removeChildren(n)
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

func isAncestor(ancestor, n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == ancestor {
			return true
		}
	}
	return false
}

func elementChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

func render(n *html.Node) (string, error) {
	var sb strings.Builder
	if err := html.Render(&sb, n); err != nil {
		return "", err
	}
	return sb.String(), nil
}

var (
	errHierarchy = errors.New("HierarchyRequestError: the new child element contains the parent")
	errNotFound  = errors.New("NotFoundError: the node to be removed is not a child of this node")
)

func (d *Document) accessor(obj *goja.Object, name string, get func(call goja.FunctionCall) goja.Value, set func(call goja.FunctionCall) goja.Value) {
	var setter goja.Value
	if set != nil {
		setter = d.vm.ToValue(set)
	}
	_ = obj.DefineAccessorProperty(name, d.vm.ToValue(get), setter, goja.FLAG_TRUE, goja.FLAG_TRUE)
}

func (d *Document) defineNode(proto *goja.Object) {
	vm := d.vm
	node := func(get func(n *html.Node) goja.Value) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			return get(d.mustNode(call.This))
		}
	}

	d.accessor(proto, "nodeType", node(func(n *html.Node) goja.Value {
		switch n.Type {
		case html.ElementNode:
			return vm.ToValue(1)
		case html.TextNode:
			return vm.ToValue(3)
		case html.CommentNode:
			return vm.ToValue(8)
		case html.DocumentNode:
			return vm.ToValue(9)
		case html.DoctypeNode:
			return vm.ToValue(10)
		}
		return vm.ToValue(0)
	}), nil)
	d.accessor(proto, "nodeName", node(func(n *html.Node) goja.Value {
		switch n.Type {
		case html.ElementNode:
			return vm.ToValue(strings.ToUpper(n.Data))
		case html.TextNode:
			return vm.ToValue("#text")
		case html.CommentNode:
			return vm.ToValue("#comment")
		case html.DocumentNode:
			return vm.ToValue("#document")
		}
		return vm.ToValue(n.Data)
	}), nil)
	d.accessor(proto, "parentNode", node(func(n *html.Node) goja.Value {
		return d.Wrap(n.Parent)
	}), nil)
	d.accessor(proto, "parentElement", node(func(n *html.Node) goja.Value {
		if n.Parent == nil || n.Parent.Type != html.ElementNode {
			return goja.Null()
		}
		return d.Wrap(n.Parent)
	}), nil)
	d.accessor(proto, "firstChild", node(func(n *html.Node) goja.Value {
		return d.Wrap(n.FirstChild)
	}), nil)
	d.accessor(proto, "lastChild", node(func(n *html.Node) goja.Value {
		return d.Wrap(n.LastChild)
	}), nil)
	d.accessor(proto, "nextSibling", node(func(n *html.Node) goja.Value {
		return d.Wrap(n.NextSibling)
	}), nil)
	d.accessor(proto, "previousSibling", node(func(n *html.Node) goja.Value {
		return d.Wrap(n.PrevSibling)
	}), nil)
	d.accessor(proto, "childNodes", node(func(n *html.Node) goja.Value {
		var children []*html.Node
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			children = append(children, c)
		}
		return d.WrapAll(children)
	}), nil)
	d.accessor(proto, "children", node(func(n *html.Node) goja.Value {
		return d.WrapAll(elementChildren(n))
	}), nil)
	d.accessor(proto, "isConnected", node(func(n *html.Node) goja.Value {
		return vm.ToValue(d.Contains(n))
	}), nil)
	d.accessor(proto, "ownerDocument", node(func(n *html.Node) goja.Value {
		if n == d.root {
			return goja.Null()
		}
		return d.document
	}), nil)
	d.accessor(proto, "textContent", node(func(n *html.Node) goja.Value {
		if n.Type == html.DocumentNode {
			return goja.Null()
		}
		return vm.ToValue(textContent(n))
	}), func(call goja.FunctionCall) goja.Value {
		n := d.mustNode(call.This)
		text := ""
		if v := call.Argument(0); !isAbsent(v) {
			text = v.String()
		}
		setTextContent(n, text)
		return goja.Undefined()
	})

	_ = proto.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		parent := d.mustNode(call.This)
		child := d.mustNode(call.Argument(0))
		d.insert(parent, child, nil)
		return call.Argument(0)
	})
	_ = proto.Set("insertBefore", func(call goja.FunctionCall) goja.Value {
		parent := d.mustNode(call.This)
		child := d.mustNode(call.Argument(0))
		var ref *html.Node
		if v := call.Argument(1); !isAbsent(v) {
			ref = d.mustNode(v)
			if ref.Parent != parent {
				d.throw(errNotFound)
			}
		}
		d.insert(parent, child, ref)
		return call.Argument(0)
	})
	_ = proto.Set("removeChild", func(call goja.FunctionCall) goja.Value {
		parent := d.mustNode(call.This)
		child := d.mustNode(call.Argument(0))
		if child.Parent != parent {
			d.throw(errNotFound)
		}
		parent.RemoveChild(child)
		return call.Argument(0)
	})
	_ = proto.Set("replaceChild", func(call goja.FunctionCall) goja.Value {
		parent := d.mustNode(call.This)
		child := d.mustNode(call.Argument(0))
		old := d.mustNode(call.Argument(1))
		if old.Parent != parent {
			d.throw(errNotFound)
		}
		if child != old {
			d.insert(parent, child, old)
			parent.RemoveChild(old)
		}
		return call.Argument(1)
	})
	_ = proto.Set("contains", func(call goja.FunctionCall) goja.Value {
		n := d.mustNode(call.This)
		other, ok := d.Unwrap(call.Argument(0))
		return vm.ToValue(ok && isAncestor(n, other))
	})
	_ = proto.Set("hasChildNodes", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(d.mustNode(call.This).FirstChild != nil)
	})
}

func (d *Document) insert(parent, child, ref *html.Node) {
	if isAncestor(child, parent) {
		d.throw(errHierarchy)
	}
	if child.Parent != nil {
		child.Parent.RemoveChild(child)
	}
	if ref == nil {
		parent.AppendChild(child)
	} else {
		parent.InsertBefore(child, ref)
	}
}

func (d *Document) defineElement(proto *goja.Object) {
	vm := d.vm
	elem := func(get func(n *html.Node) goja.Value) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			return get(d.mustElement(call.This))
		}
	}
	attrProperty := func(name, attr string) {
		d.accessor(proto, name, elem(func(n *html.Node) goja.Value {
			v, _ := getAttr(n, attr)
			return vm.ToValue(v)
		}), func(call goja.FunctionCall) goja.Value {
			setAttr(d.mustElement(call.This), attr, call.Argument(0).String())
			return goja.Undefined()
		})
	}
	boolAttrProperty := func(name string) {
		d.accessor(proto, name, elem(func(n *html.Node) goja.Value {
			_, ok := getAttr(n, name)
			return vm.ToValue(ok)
		}), func(call goja.FunctionCall) goja.Value {
			n := d.mustElement(call.This)
			if call.Argument(0).ToBoolean() {
				setAttr(n, name, "")
			} else {
				removeAttr(n, name)
			}
			return goja.Undefined()
		})
	}

	d.accessor(proto, "tagName", elem(func(n *html.Node) goja.Value {
		return vm.ToValue(strings.ToUpper(n.Data))
	}), nil)
	d.accessor(proto, "localName", elem(func(n *html.Node) goja.Value {
		return vm.ToValue(n.Data)
	}), nil)
	attrProperty("id", "id")
	attrProperty("className", "class")
	attrProperty("name", "name")
	attrProperty("type", "type")
	attrProperty("href", "href")
	attrProperty("placeholder", "placeholder")
	boolAttrProperty("disabled")
	boolAttrProperty("hidden")
	boolAttrProperty("readOnly")

	d.accessor(proto, "classList", elem(func(n *html.Node) goja.Value {
		return d.classList(n)
	}), nil)
	d.accessor(proto, "dataset", elem(func(n *html.Node) goja.Value {
		data := vm.NewObject()
		for _, a := range n.Attr {
			if name, ok := strings.CutPrefix(a.Key, "data-"); ok {
				_ = data.Set(camelCase(name), a.Val)
			}
		}
		return data
	}), nil)

	_ = proto.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		v, ok := getAttr(d.mustElement(call.This), strings.ToLower(call.Argument(0).String()))
		if !ok {
			return goja.Null()
		}
		return vm.ToValue(v)
	})
	_ = proto.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		setAttr(d.mustElement(call.This), strings.ToLower(call.Argument(0).String()), call.Argument(1).String())
		return goja.Undefined()
	})
	_ = proto.Set("removeAttribute", func(call goja.FunctionCall) goja.Value {
		removeAttr(d.mustElement(call.This), strings.ToLower(call.Argument(0).String()))
		return goja.Undefined()
	})
	_ = proto.Set("hasAttribute", func(call goja.FunctionCall) goja.Value {
		_, ok := getAttr(d.mustElement(call.This), strings.ToLower(call.Argument(0).String()))
		return vm.ToValue(ok)
	})

	d.accessor(proto, "innerHTML", elem(func(n *html.Node) goja.Value {
		var sb strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			s, err := render(c)
			if err != nil {
				d.throw(err)
			}
			sb.WriteString(s)
		}
		return vm.ToValue(sb.String())
	}), func(call goja.FunctionCall) goja.Value {
		n := d.mustElement(call.This)
		if err := d.SetInnerHTML(n, call.Argument(0).String()); err != nil {
			d.throw(err)
		}
		return goja.Undefined()
	})
	d.accessor(proto, "outerHTML", elem(func(n *html.Node) goja.Value {
		s, err := render(n)
		if err != nil {
			d.throw(err)
		}
		return vm.ToValue(s)
	}), nil)
	d.accessor(proto, "firstElementChild", elem(func(n *html.Node) goja.Value {
		children := elementChildren(n)
		if len(children) == 0 {
			return goja.Null()
		}
		return d.Wrap(children[0])
	}), nil)
	d.accessor(proto, "childElementCount", elem(func(n *html.Node) goja.Value {
		return vm.ToValue(len(elementChildren(n)))
	}), nil)

	_ = proto.Set("remove", func(call goja.FunctionCall) goja.Value {
		n := d.mustElement(call.This)
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
		return goja.Undefined()
	})

	d.defineQueries(proto, d.mustElement)
	_ = proto.Set("matches", func(call goja.FunctionCall) goja.Value {
		ok, err := d.Matches(d.mustElement(call.This), call.Argument(0).String())
		if err != nil {
			d.syntaxError(err)
		}
		return vm.ToValue(ok)
	})
	_ = proto.Set("closest", func(call goja.FunctionCall) goja.Value {
		selector := call.Argument(0).String()
		for n := d.mustElement(call.This); n != nil && n.Type == html.ElementNode; n = n.Parent {
			ok, err := d.Matches(n, selector)
			if err != nil {
				d.syntaxError(err)
			}
			if ok {
				return d.Wrap(n)
			}
		}
		return goja.Null()
	})

	d.accessor(proto, "value", elem(func(n *html.Node) goja.Value {
		return vm.ToValue(d.Value(n))
	}), func(call goja.FunctionCall) goja.Value {
		d.SetValue(d.mustElement(call.This), call.Argument(0).String())
		return goja.Undefined()
	})
	d.accessor(proto, "checked", elem(func(n *html.Node) goja.Value {
		return vm.ToValue(d.Checked(n))
	}), func(call goja.FunctionCall) goja.Value {
		d.SetChecked(d.mustElement(call.This), call.Argument(0).ToBoolean())
		return goja.Undefined()
	})

	_ = proto.Set("focus", func(call goja.FunctionCall) goja.Value {
		d.Focus(d.mustElement(call.This))
		return goja.Undefined()
	})
	_ = proto.Set("blur", func(call goja.FunctionCall) goja.Value {
		n := d.mustElement(call.This)
		if d.active == n {
			d.Focus(nil)
		}
		return goja.Undefined()
	})
	_ = proto.Set("click", func(call goja.FunctionCall) goja.Value {
		n := d.mustElement(call.This)
		if _, disabled := getAttr(n, "disabled"); disabled {
			return goja.Undefined()
		}
		ev, err := d.NewEvent(KindMouseEvent, "click", map[string]any{"bubbles": true, "cancelable": true, "view": d.window})
		if err != nil {
			d.throw(err)
		}
		if _, err := d.Dispatch(d.Wrap(n), ev); err != nil {
			d.throw(err)
		}
		return goja.Undefined()
	})

	d.defineGeometry(proto)
}

// defineQueries installs querySelector and friends scoped to the node
// resolved by scope.
func (d *Document) defineQueries(obj *goja.Object, scope func(goja.Value) *html.Node) {
	_ = obj.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		nodes, err := d.QueryAll(scope(call.This), call.Argument(0).String())
		if err != nil {
			d.syntaxError(err)
		}
		return d.WrapAll(nodes)
	})
	_ = obj.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		nodes, err := d.QueryAll(scope(call.This), call.Argument(0).String())
		if err != nil {
			d.syntaxError(err)
		}
		if len(nodes) == 0 {
			return goja.Null()
		}
		return d.Wrap(nodes[0])
	})
	_ = obj.Set("getElementsByTagName", func(call goja.FunctionCall) goja.Value {
		tag := strings.ToLower(call.Argument(0).String())
		var out []*html.Node
		walkElements(scope(call.This), func(n *html.Node) {
			if tag == "*" || n.Data == tag {
				out = append(out, n)
			}
		})
		return d.WrapAll(out)
	})
	_ = obj.Set("getElementsByClassName", func(call goja.FunctionCall) goja.Value {
		want := strings.Fields(call.Argument(0).String())
		var out []*html.Node
		walkElements(scope(call.This), func(n *html.Node) {
			class, _ := getAttr(n, "class")
			have := strings.Fields(class)
			for _, w := range want {
				found := false
				for _, h := range have {
					if h == w {
						found = true
						break
					}
				}
				if !found {
					return
				}
			}
			if len(want) > 0 {
				out = append(out, n)
			}
		})
		return d.WrapAll(out)
	})
}

// walkElements visits the element descendants of n in document order.
func walkElements(n *html.Node, fn func(*html.Node)) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			fn(c)
			walkElements(c, fn)
		}
	}
}

func (d *Document) classList(n *html.Node) *goja.Object {
	vm := d.vm
	classes := func() []string {
		class, _ := getAttr(n, "class")
		return strings.Fields(class)
	}
	index := func(list []string, name string) int {
		for i, c := range list {
			if c == name {
				return i
			}
		}
		return -1
	}
	obj := vm.NewObject()
	_ = obj.Set("contains", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(index(classes(), call.Argument(0).String()) >= 0)
	})
	_ = obj.Set("add", func(call goja.FunctionCall) goja.Value {
		list := classes()
		for _, arg := range call.Arguments {
			if name := arg.String(); index(list, name) < 0 {
				list = append(list, name)
			}
		}
		setAttr(n, "class", strings.Join(list, " "))
		return goja.Undefined()
	})
	_ = obj.Set("remove", func(call goja.FunctionCall) goja.Value {
		list := classes()
		for _, arg := range call.Arguments {
			if i := index(list, arg.String()); i >= 0 {
				list = append(list[:i], list[i+1:]...)
			}
		}
		setAttr(n, "class", strings.Join(list, " "))
		return goja.Undefined()
	})
	_ = obj.Set("toggle", func(call goja.FunctionCall) goja.Value {
		list := classes()
		name := call.Argument(0).String()
		i := index(list, name)
		want := i < 0
		if force := call.Argument(1); !goja.IsUndefined(force) {
			want = force.ToBoolean()
		}
		switch {
		case want && i < 0:
			list = append(list, name)
		case !want && i >= 0:
			list = append(list[:i], list[i+1:]...)
		}
		setAttr(n, "class", strings.Join(list, " "))
		return vm.ToValue(want)
	})
	_ = obj.DefineAccessorProperty("length", vm.ToValue(func(goja.FunctionCall) goja.Value {
		return vm.ToValue(len(classes()))
	}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	return obj
}

// SetInnerHTML replaces the children of n with the parsed markup.
func (d *Document) SetInnerHTML(n *html.Node, markup string) error {
	nodes, err := html.ParseFragment(strings.NewReader(markup), n)
	if err != nil {
		return err
	}
	removeChildren(n)
	for _, c := range nodes {
		n.AppendChild(c)
	}
	return nil
}

// CreateElement returns a new detached element.
func (d *Document) CreateElement(tag string) *html.Node {
	tag = strings.ToLower(tag)
	return &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	}
}

// Value returns the current value of a form control.
func (d *Document) Value(n *html.Node) string {
	switch n.DataAtom {
	case atom.Input:
		if f := d.forms[n]; f != nil && f.value != nil {
			return *f.value
		}
		if v, ok := getAttr(n, "value"); ok {
			return v
		}
		if t, _ := getAttr(n, "type"); t == "checkbox" || t == "radio" {
			return "on"
		}
		return ""
	case atom.Textarea:
		if f := d.forms[n]; f != nil && f.value != nil {
			return *f.value
		}
		return textContent(n)
	case atom.Select:
		if opt := d.selectedOption(n); opt != nil {
			return d.Value(opt)
		}
		return ""
	case atom.Option:
		if v, ok := getAttr(n, "value"); ok {
			return v
		}
		return strings.TrimSpace(textContent(n))
	}
	v, _ := getAttr(n, "value")
	return v
}

// SetValue sets the value of a form control as a user would.
func (d *Document) SetValue(n *html.Node, value string) {
	switch n.DataAtom {
	case atom.Input, atom.Textarea:
		d.form(n).value = &value
	case atom.Select:
		var options []*html.Node
		walkElements(n, func(c *html.Node) {
			if c.DataAtom == atom.Option {
				options = append(options, c)
			}
		})
		for _, opt := range options {
			if d.Value(opt) == value {
				setAttr(opt, "selected", "")
			} else {
				removeAttr(opt, "selected")
			}
		}
	default:
		setAttr(n, "value", value)
	}
}

func (d *Document) selectedOption(n *html.Node) *html.Node {
	var first, selected *html.Node
	walkElements(n, func(c *html.Node) {
		if c.DataAtom != atom.Option {
			return
		}
		if first == nil {
			first = c
		}
		if _, ok := getAttr(c, "selected"); ok && selected == nil {
			selected = c
		}
	})
	if selected != nil {
		return selected
	}
	return first
}

// Checked returns the checkedness of a checkbox or radio input.
func (d *Document) Checked(n *html.Node) bool {
	if f := d.forms[n]; f != nil && f.checked != nil {
		return *f.checked
	}
	_, ok := getAttr(n, "checked")
	return ok
}

// SetChecked sets the checkedness of n, unchecking radios of the same group.
func (d *Document) SetChecked(n *html.Node, checked bool) {
	d.form(n).checked = &checked
	if t, _ := getAttr(n, "type"); !checked || t != "radio" {
		return
	}
	name, ok := getAttr(n, "name")
	if !ok {
		return
	}
	off := false
	walkElements(d.root, func(c *html.Node) {
		if c == n || c.DataAtom != atom.Input {
			return
		}
		if t, _ := getAttr(c, "type"); t != "radio" {
			return
		}
		if cn, _ := getAttr(c, "name"); cn == name {
			d.form(c).checked = &off
		}
	})
}

// Focus moves focus to n, dispatching blur and focus. A nil n blurs the
// active element.
func (d *Document) Focus(n *html.Node) {
	if d.active == n {
		return
	}
	prev := d.active
	d.active = n
	if prev != nil {
		d.dispatchSimple(prev, KindFocusEvent, "blur", false)
		d.dispatchSimple(prev, KindFocusEvent, "focusout", true)
	}
	if n != nil {
		d.dispatchSimple(n, KindFocusEvent, "focus", false)
		d.dispatchSimple(n, KindFocusEvent, "focusin", true)
	}
}

func (d *Document) dispatchSimple(n *html.Node, kind EventKind, typ string, bubbles bool) {
	ev, err := d.NewEvent(kind, typ, map[string]any{"bubbles": bubbles})
	if err != nil {
		d.logger.Warn("failed to create event", "type", typ, "error", err)
		return
	}
	if _, err := d.Dispatch(d.Wrap(n), ev); err != nil {
		d.logger.Warn("failed to dispatch event", "type", typ, "error", err)
	}
}

func (d *Document) defineDocument(doc *goja.Object) {
	vm := d.vm
	root := func(goja.Value) *html.Node { return d.root }
	d.defineQueries(doc, root)

	d.accessor(doc, "documentElement", func(goja.FunctionCall) goja.Value {
		return d.Wrap(d.DocumentElement())
	}, nil)
	d.accessor(doc, "body", func(goja.FunctionCall) goja.Value {
		return d.Wrap(d.Body())
	}, nil)
	d.accessor(doc, "head", func(goja.FunctionCall) goja.Value {
		return d.Wrap(d.Head())
	}, nil)
	d.accessor(doc, "defaultView", func(goja.FunctionCall) goja.Value {
		return d.window
	}, nil)
	d.accessor(doc, "activeElement", func(goja.FunctionCall) goja.Value {
		if d.active != nil && d.Contains(d.active) {
			return d.Wrap(d.active)
		}
		return d.Wrap(d.Body())
	}, nil)
	d.accessor(doc, "title", func(goja.FunctionCall) goja.Value {
		if title := findFirst(d.root, atom.Title); title != nil {
			return vm.ToValue(strings.TrimSpace(textContent(title)))
		}
		return vm.ToValue("")
	}, func(call goja.FunctionCall) goja.Value {
		title := findFirst(d.root, atom.Title)
		if title == nil {
			head := d.Head()
			if head == nil {
				return goja.Undefined()
			}
			title = d.CreateElement("title")
			head.AppendChild(title)
		}
		setTextContent(title, call.Argument(0).String())
		return goja.Undefined()
	})

	_ = doc.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).String()
		var found *html.Node
		walkElements(d.root, func(n *html.Node) {
			if found != nil {
				return
			}
			if v, ok := getAttr(n, "id"); ok && v == id {
				found = n
			}
		})
		return d.Wrap(found)
	})
	_ = doc.Set("createElement", func(call goja.FunctionCall) goja.Value {
		return d.Wrap(d.CreateElement(call.Argument(0).String()))
	})
	_ = doc.Set("createTextNode", func(call goja.FunctionCall) goja.Value {
		return d.Wrap(&html.Node{Type: html.TextNode, Data: call.Argument(0).String()})
	})
	_ = doc.Set("createComment", func(call goja.FunctionCall) goja.Value {
		return d.Wrap(&html.Node{Type: html.CommentNode, Data: call.Argument(0).String()})
	})
	_ = doc.Set("createEvent", func(call goja.FunctionCall) goja.Value {
		ev, err := d.createEvent(call.Argument(0).String())
		if err != nil {
			d.throw(err)
		}
		return ev
	})
}

func (d *Document) defineWindow(win *goja.Object) {
	vm := d.vm
	_ = win.Set("document", d.document)
	_ = win.Set("window", win)
	_ = win.Set("self", win)
	d.accessor(win, "innerWidth", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(d.innerWidth)
	}, func(call goja.FunctionCall) goja.Value {
		d.innerWidth = call.Argument(0).ToFloat()
		return goja.Undefined()
	})
	d.accessor(win, "innerHeight", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(d.innerHeight)
	}, func(call goja.FunctionCall) goja.Value {
		d.innerHeight = call.Argument(0).ToFloat()
		return goja.Undefined()
	})
	_ = win.Set("getComputedStyle", func(call goja.FunctionCall) goja.Value {
		n := d.mustElement(call.Argument(0))
		return d.computedStyle(n)
	})
}

// Resize sets the window size and dispatches resize on the window.
func (d *Document) Resize(width, height float64) error {
	d.innerWidth = width
	d.innerHeight = height
	ev, err := d.NewEvent(KindEvent, "resize", nil)
	if err != nil {
		return err
	}
	_, err = d.Dispatch(d.window, ev)
	return err
}
