package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// Modelo compilado de un subconjunto de XML Schema suficiente para los leiautes
// NFe: elementos, complexType (sequence/choice/all, extensión), grupos, atributos
// (required/fixed) y simpleType con enumeration, pattern y facetas de longitud.
// Los nombres se resuelven por nombre local; lo que no se resuelve se valida en modo lax.

const unbounded = -1

type schemaSet struct {
	elements     map[string]*elementDecl
	complexTypes map[string]*complexType
	simpleTypes  map[string]*simpleType
	groups       map[string]*particle
	files        []string
}

type elementDecl struct {
	name     string
	ref      string
	typeName string
	complex  *complexType
	simple   *simpleType
}

type particleKind int

const (
	kindElement particleKind = iota
	kindSequence
	kindChoice
	kindAll
	kindAny
	kindGroupRef
)

type particle struct {
	kind     particleKind
	min, max int
	elem     *elementDecl
	items    []*particle
	ref      string
}

type attrDecl struct {
	name     string
	typeName string
	simple   *simpleType
	required bool
	fixed    string
}

type complexType struct {
	content       *particle
	attrs         []*attrDecl
	anyAttr       bool
	base          string
	extends       bool
	simpleContent bool
	textType      *simpleType
}

type simpleType struct {
	builtin   string
	base      string
	baseType  *simpleType
	enums     []string
	patterns  []*regexp.Regexp
	length    int
	minLength int
	maxLength int
	lax       bool
}

func newSimpleType() *simpleType {
	return &simpleType{length: -1, minLength: -1, maxLength: -1}
}

// ── Compilación ───────────────────────────────────────────────────────────────

type compiler struct {
	set    *schemaSet
	loaded map[string]bool
}

// compileFile carga el XSD y, recursivamente, sus include (obligatorios) e import (opcionales).
func compileFile(path string) (*schemaSet, error) {
	c := &compiler{
		set: &schemaSet{
			elements:     map[string]*elementDecl{},
			complexTypes: map[string]*complexType{},
			simpleTypes:  map[string]*simpleType{},
			groups:       map[string]*particle{},
		},
		loaded: map[string]bool{},
	}
	if err := c.load(path, true); err != nil {
		return nil, err
	}
	return c.set, nil
}

func (c *compiler) load(path string, required bool) error {
	path = filepath.Clean(path)
	if c.loaded[path] {
		return nil
	}
	c.loaded[path] = true

	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("schema: leer %s: %w", filepath.Base(path), err)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return fmt.Errorf("schema: parsear %s: %w", filepath.Base(path), err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "schema" {
		return fmt.Errorf("schema: %s no es un XML Schema", filepath.Base(path))
	}
	c.set.files = append(c.set.files, path)
	dir := filepath.Dir(path)

	for _, child := range root.ChildElements() {
		name := child.SelectAttrValue("name", "")
		switch child.Tag {
		case "include", "import":
			if loc := child.SelectAttrValue("schemaLocation", ""); loc != "" {
				if err := c.load(filepath.Join(dir, loc), child.Tag == "include"); err != nil {
					return err
				}
			}
		case "element":
			if _, dup := c.set.elements[name]; !dup {
				c.set.elements[name] = c.element(child)
			}
		case "complexType":
			if _, dup := c.set.complexTypes[name]; !dup {
				c.set.complexTypes[name] = c.complexType(child)
			}
		case "simpleType":
			if _, dup := c.set.simpleTypes[name]; !dup {
				c.set.simpleTypes[name] = c.simpleType(child)
			}
		case "group":
			for _, g := range child.ChildElements() {
				if isGroup(g.Tag) {
					c.set.groups[name] = c.group(g)
				}
			}
		}
	}
	return nil
}

func (c *compiler) element(el *etree.Element) *elementDecl {
	d := &elementDecl{
		name:     el.SelectAttrValue("name", ""),
		ref:      localName(el.SelectAttrValue("ref", "")),
		typeName: el.SelectAttrValue("type", ""),
	}
	for _, ch := range el.ChildElements() {
		switch ch.Tag {
		case "complexType":
			d.complex = c.complexType(ch)
		case "simpleType":
			d.simple = c.simpleType(ch)
		}
	}
	return d
}

func (c *compiler) complexType(el *etree.Element) *complexType {
	ct := &complexType{}
	c.fillComplex(ct, el)
	for _, ch := range el.ChildElements() {
		switch ch.Tag {
		case "simpleContent":
			ct.simpleContent = true
			for _, d := range ch.ChildElements() {
				if d.Tag != "extension" && d.Tag != "restriction" {
					continue
				}
				st := newSimpleType()
				st.base = d.SelectAttrValue("base", "")
				if d.Tag == "restriction" {
					c.facets(st, d)
				}
				ct.textType = st
				c.fillComplex(ct, d)
			}
		case "complexContent":
			for _, d := range ch.ChildElements() {
				if d.Tag != "extension" && d.Tag != "restriction" {
					continue
				}
				ct.base = d.SelectAttrValue("base", "")
				ct.extends = d.Tag == "extension"
				c.fillComplex(ct, d)
			}
		}
	}
	return ct
}

// fillComplex toma el modelo de contenido y los atributos de el.
func (c *compiler) fillComplex(ct *complexType, el *etree.Element) {
	for _, ch := range el.ChildElements() {
		switch {
		case isGroup(ch.Tag):
			ct.content = c.group(ch)
		case ch.Tag == "group":
			mn, mx := occurs(ch)
			ct.content = &particle{kind: kindGroupRef, ref: localName(ch.SelectAttrValue("ref", "")), min: mn, max: mx}
		case ch.Tag == "attribute":
			ct.attrs = append(ct.attrs, c.attribute(ch))
		case ch.Tag == "anyAttribute":
			ct.anyAttr = true
		}
	}
}

func (c *compiler) attribute(el *etree.Element) *attrDecl {
	a := &attrDecl{
		name:     el.SelectAttrValue("name", localName(el.SelectAttrValue("ref", ""))),
		typeName: el.SelectAttrValue("type", ""),
		required: el.SelectAttrValue("use", "") == "required",
		fixed:    el.SelectAttrValue("fixed", ""),
	}
	if st := el.SelectElement("simpleType"); st != nil {
		a.simple = c.simpleType(st)
	}
	return a
}

func (c *compiler) group(el *etree.Element) *particle {
	p := &particle{}
	switch el.Tag {
	case "sequence":
		p.kind = kindSequence
	case "choice":
		p.kind = kindChoice
	case "all":
		p.kind = kindAll
	}
	p.min, p.max = occurs(el)
	for _, ch := range el.ChildElements() {
		mn, mx := occurs(ch)
		switch {
		case ch.Tag == "element":
			p.items = append(p.items, &particle{kind: kindElement, elem: c.element(ch), min: mn, max: mx})
		case isGroup(ch.Tag):
			p.items = append(p.items, c.group(ch))
		case ch.Tag == "any":
			p.items = append(p.items, &particle{kind: kindAny, min: mn, max: mx})
		case ch.Tag == "group":
			p.items = append(p.items, &particle{kind: kindGroupRef, ref: localName(ch.SelectAttrValue("ref", "")), min: mn, max: mx})
		}
	}
	return p
}

func (c *compiler) simpleType(el *etree.Element) *simpleType {
	st := newSimpleType()
	for _, ch := range el.ChildElements() {
		switch ch.Tag {
		case "restriction":
			st.base = ch.SelectAttrValue("base", "")
			if inner := ch.SelectElement("simpleType"); inner != nil {
				st.baseType = c.simpleType(inner)
			}
			c.facets(st, ch)
		case "union", "list":
			st.lax = true
		}
	}
	return st
}

func (c *compiler) facets(st *simpleType, restriction *etree.Element) {
	for _, f := range restriction.ChildElements() {
		value := f.SelectAttrValue("value", "")
		switch f.Tag {
		case "enumeration":
			st.enums = append(st.enums, value)
		case "pattern":
			// Las clases propias de XSD (\i, \c) no existen en RE2: el patrón se omite.
			if re, err := regexp.Compile("^(?:" + value + ")$"); err == nil {
				st.patterns = append(st.patterns, re)
			}
		case "length":
			st.length = atoi(value, -1)
		case "minLength":
			st.minLength = atoi(value, -1)
		case "maxLength":
			st.maxLength = atoi(value, -1)
		}
	}
}

// ── Utilidades ───────────────────────────────────────────────────────────────

func isGroup(tag string) bool {
	return tag == "sequence" || tag == "choice" || tag == "all"
}

func occurs(el *etree.Element) (int, int) {
	mn := atoi(el.SelectAttrValue("minOccurs", "1"), 1)
	mxRaw := el.SelectAttrValue("maxOccurs", "1")
	if mxRaw == "unbounded" {
		return mn, unbounded
	}
	return mn, atoi(mxRaw, 1)
}

func atoi(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

func localName(qname string) string {
	if i := strings.LastIndex(qname, ":"); i >= 0 {
		return qname[i+1:]
	}
	return qname
}
