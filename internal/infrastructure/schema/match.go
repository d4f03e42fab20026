package schema

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/beevik/etree"
)

const maxErrors = 50

var builtinPatterns = map[string]*regexp.Regexp{
	"decimal":            regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`),
	"integer":            regexp.MustCompile(`^[+-]?\d+$`),
	"int":                regexp.MustCompile(`^[+-]?\d+$`),
	"long":               regexp.MustCompile(`^[+-]?\d+$`),
	"short":              regexp.MustCompile(`^[+-]?\d+$`),
	"byte":               regexp.MustCompile(`^[+-]?\d+$`),
	"nonNegativeInteger": regexp.MustCompile(`^\+?\d+$`),
	"positiveInteger":    regexp.MustCompile(`^\+?0*[1-9]\d*$`),
	"unsignedInt":        regexp.MustCompile(`^\+?\d+$`),
	"unsignedLong":       regexp.MustCompile(`^\+?\d+$`),
	"unsignedShort":      regexp.MustCompile(`^\+?\d+$`),
	"unsignedByte":       regexp.MustCompile(`^\+?\d+$`),
	"boolean":            regexp.MustCompile(`^(true|false|1|0)$`),
	"date":               regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(Z|[+-]\d{2}:\d{2})?$`),
	"dateTime":           regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?$`),
	"time":               regexp.MustCompile(`^\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?$`),
}

var laxBuiltins = map[string]bool{
	"string": true, "normalizedString": true, "token": true, "anyURI": true, "ID": true,
	"IDREF": true, "NMTOKEN": true, "anySimpleType": true, "anyType": true, "hexBinary": true,
	"base64Binary": true, "gYearMonth": true, "gYear": true, "language": true, "Name": true, "NCName": true,
}

func (s *schemaSet) simpleByName(qname string) *simpleType {
	local := localName(qname)
	if st, ok := s.simpleTypes[local]; ok {
		return st
	}
	if _, ok := builtinPatterns[local]; ok || laxBuiltins[local] {
		st := newSimpleType()
		st.builtin = local
		return st
	}
	return nil
}

// validate comprueba el documento contra la declaración global de su raíz.
func (s *schemaSet) validate(root *etree.Element) []string {
	decl, ok := s.elements[root.Tag]
	if !ok {
		return []string{fmt.Sprintf("elemento raíz <%s> no declarado en el esquema", root.Tag)}
	}
	v := &validation{set: s}
	v.element(root, decl, "/"+root.Tag, 0)
	return v.errs
}

type validation struct {
	set  *schemaSet
	errs []string
}

func (v *validation) fail(path, format string, args ...any) {
	if len(v.errs) >= maxErrors {
		return
	}
	v.errs = append(v.errs, path+": "+fmt.Sprintf(format, args...))
}

func (v *validation) resolve(d *elementDecl) *elementDecl {
	if d == nil || d.ref == "" {
		return d
	}
	return v.set.elements[d.ref]
}

func (v *validation) element(el *etree.Element, d *elementDecl, path string, depth int) {
	if depth > 64 {
		v.fail(path, "anidamiento excesivo")
		return
	}
	if d = v.resolve(d); d == nil {
		return
	}
	switch {
	case d.complex != nil:
		v.complex(el, d.complex, path, depth)
	case d.simple != nil:
		v.simpleElement(el, d.simple, path)
	case d.typeName != "":
		if ct, ok := v.set.complexTypes[localName(d.typeName)]; ok {
			v.complex(el, ct, path, depth)
			return
		}
		if st := v.set.simpleByName(d.typeName); st != nil {
			v.simpleElement(el, st, path)
		}
	}
}

func (v *validation) simpleElement(el *etree.Element, st *simpleType, path string) {
	if len(el.ChildElements()) > 0 {
		v.fail(path, "elemento de contenido simple no admite hijos")
		return
	}
	v.checkAttributes(el, nil, false, path)
	v.checkValue(textOf(el), st, path)
}

func (v *validation) complex(el *etree.Element, ct *complexType, path string, depth int) {
	attrs, anyAttr := v.attributesOf(ct, 0)
	v.checkAttributes(el, attrs, anyAttr, path)

	children := el.ChildElements()
	if ct.simpleContent {
		if len(children) > 0 {
			v.fail(path, "elemento de contenido simple no admite hijos")
			return
		}
		v.checkValue(textOf(el), ct.textType, path)
		return
	}

	content := v.contentOf(ct, 0)
	if content == nil {
		if len(children) > 0 {
			v.fail(path, "elemento vacío no admite hijos (encontrado <%s>)", children[0].Tag)
		}
		return
	}

	m := &matcher{set: v.set, children: children}
	ends := m.particle(content, m.start())
	if !ends[len(children)] {
		if m.furthest < len(children) {
			v.fail(path, "elemento inesperado <%s>", children[m.furthest].Tag)
		} else {
			v.fail(path, "contenido incompleto: faltan elementos obligatorios")
		}
		return
	}
	for _, ch := range children {
		if d := v.declFor(content, ch.Tag, 0); d != nil {
			v.element(ch, d, path+"/"+ch.Tag, depth+1)
		}
	}
}

// contentOf combina el modelo heredado (extensión) con el propio.
func (v *validation) contentOf(ct *complexType, depth int) *particle {
	if ct.base == "" || !ct.extends || depth > 16 {
		return ct.content
	}
	base, ok := v.set.complexTypes[localName(ct.base)]
	if !ok {
		return ct.content
	}
	inherited := v.contentOf(base, depth+1)
	switch {
	case inherited == nil:
		return ct.content
	case ct.content == nil:
		return inherited
	}
	return &particle{kind: kindSequence, min: 1, max: 1, items: []*particle{inherited, ct.content}}
}

func (v *validation) attributesOf(ct *complexType, depth int) (map[string]*attrDecl, bool) {
	out := map[string]*attrDecl{}
	anyAttr := ct.anyAttr
	if ct.base != "" && depth < 16 {
		if base, ok := v.set.complexTypes[localName(ct.base)]; ok {
			inherited, inheritedAny := v.attributesOf(base, depth+1)
			for k, a := range inherited {
				out[k] = a
			}
			anyAttr = anyAttr || inheritedAny
		}
	}
	for _, a := range ct.attrs {
		out[a.name] = a
	}
	return out, anyAttr
}

func (v *validation) checkAttributes(el *etree.Element, attrs map[string]*attrDecl, anyAttr bool, path string) {
	for _, a := range el.Attr {
		if a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns") || a.Space == "xsi" || a.Space == "xml" {
			continue
		}
		decl, ok := attrs[a.Key]
		if !ok {
			if !anyAttr {
				v.fail(path, "atributo %q no declarado", a.Key)
			}
			continue
		}
		if decl.fixed != "" && a.Value != decl.fixed {
			v.fail(path+"/@"+a.Key, "valor %q distinto del fijo %q", a.Value, decl.fixed)
			continue
		}
		st := decl.simple
		if st == nil && decl.typeName != "" {
			st = v.set.simpleByName(decl.typeName)
		}
		v.checkValue(a.Value, st, path+"/@"+a.Key)
	}
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if attrs[name].required && el.SelectAttr(name) == nil {
			v.fail(path, "falta el atributo obligatorio %q", name)
		}
	}
}

func (v *validation) checkValue(value string, st *simpleType, path string) {
	if st == nil || st.lax {
		return
	}
	if st.builtin != "" {
		if re, ok := builtinPatterns[st.builtin]; ok && !re.MatchString(strings.TrimSpace(value)) {
			v.fail(path, "valor %q inválido para %s", value, st.builtin)
		}
		if st.builtin == "base64Binary" {
			if _, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(value), "")); err != nil {
				v.fail(path, "valor no es base64 válido")
			}
		}
		return
	}
	if st.baseType != nil {
		v.checkValue(value, st.baseType, path)
	} else if st.base != "" {
		v.checkValue(value, v.set.simpleByName(st.base), path)
	}
	if len(st.enums) > 0 && !contains(st.enums, value) {
		v.fail(path, "valor %q fuera de la enumeración %v", value, st.enums)
	}
	if len(st.patterns) > 0 && !anyMatch(st.patterns, value) {
		v.fail(path, "valor %q no cumple el patrón %s", value, st.patterns[0].String())
	}
	n := utf8.RuneCountInString(value)
	if st.length >= 0 && n != st.length {
		v.fail(path, "longitud %d distinta de %d", n, st.length)
	}
	if st.minLength >= 0 && n < st.minLength {
		v.fail(path, "longitud %d menor que el mínimo %d", n, st.minLength)
	}
	if st.maxLength >= 0 && n > st.maxLength {
		v.fail(path, "longitud %d mayor que el máximo %d", n, st.maxLength)
	}
}

// declFor busca la declaración que corresponde al hijo tag dentro del modelo.
func (v *validation) declFor(p *particle, tag string, depth int) *elementDecl {
	if p == nil || depth > 32 {
		return nil
	}
	switch p.kind {
	case kindElement:
		if elementName(p.elem) == tag {
			return p.elem
		}
	case kindGroupRef:
		return v.declFor(v.set.groups[p.ref], tag, depth+1)
	case kindSequence, kindChoice, kindAll:
		for _, it := range p.items {
			if d := v.declFor(it, tag, depth+1); d != nil {
				return d
			}
		}
	}
	return nil
}

// ── Coincidencia del modelo de contenido ─────────────────────────────────────

// matcher calcula el conjunto de posiciones alcanzables sobre la lista de hijos.
type matcher struct {
	set      *schemaSet
	children []*etree.Element
	furthest int
	depth    int
}

type posSet []bool

func (m *matcher) start() posSet {
	s := make(posSet, len(m.children)+1)
	s[0] = true
	return s
}

func (m *matcher) empty() posSet { return make(posSet, len(m.children)+1) }

func (s posSet) none() bool {
	for _, b := range s {
		if b {
			return false
		}
	}
	return true
}

func (s posSet) union(o posSet) {
	for i, b := range o {
		if b {
			s[i] = true
		}
	}
}

func (s posSet) equal(o posSet) bool {
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

func (m *matcher) particle(p *particle, from posSet) posSet {
	result := m.empty()
	if p.min == 0 {
		result.union(from)
	}
	current := from
	for count := 1; p.max == unbounded || count <= p.max; count++ {
		next := m.once(p, current)
		if next.none() {
			break
		}
		if count >= p.min {
			result.union(next)
		}
		if count >= p.min && (next.equal(current) || count > len(m.children)+1) {
			break
		}
		current = next
	}
	return result
}

func (m *matcher) once(p *particle, from posSet) posSet {
	out := m.empty()
	switch p.kind {
	case kindElement, kindAny:
		name := elementName(p.elem)
		for pos, ok := range from {
			if !ok || pos >= len(m.children) {
				continue
			}
			if p.kind == kindAny || m.children[pos].Tag == name {
				out[pos+1] = true
				if pos+1 > m.furthest {
					m.furthest = pos + 1
				}
			}
		}
	case kindSequence:
		cur := from
		for _, it := range p.items {
			cur = m.particle(it, cur)
			if cur.none() {
				break
			}
		}
		out = cur
	case kindChoice:
		for _, it := range p.items {
			out.union(m.particle(it, from))
		}
	case kindAll:
		for pos, ok := range from {
			if ok {
				if end, matched := m.all(p, pos); matched {
					out[end] = true
				}
			}
		}
	case kindGroupRef:
		g, ok := m.set.groups[p.ref]
		if !ok || m.depth > 32 {
			return out
		}
		m.depth++
		out = m.particle(g, from)
		m.depth--
	}
	return out
}

// all consume hijos en cualquier orden, cada elemento a lo sumo una vez.
func (m *matcher) all(p *particle, pos int) (int, bool) {
	used := make([]bool, len(p.items))
	for pos < len(m.children) {
		found := false
		for i, it := range p.items {
			if !used[i] && it.kind == kindElement && elementName(it.elem) == m.children[pos].Tag {
				used[i], found = true, true
				break
			}
		}
		if !found {
			break
		}
		pos++
		if pos > m.furthest {
			m.furthest = pos
		}
	}
	for i, it := range p.items {
		if !used[i] && it.min > 0 {
			return pos, false
		}
	}
	return pos, true
}

func elementName(d *elementDecl) string {
	if d == nil {
		return ""
	}
	if d.ref != "" {
		return d.ref
	}
	return d.name
}

func textOf(el *etree.Element) string {
	var sb strings.Builder
	for _, t := range el.Child {
		if cd, ok := t.(*etree.CharData); ok {
			sb.WriteString(cd.Data)
		}
	}
	return sb.String()
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func anyMatch(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
