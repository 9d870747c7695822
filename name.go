// This file is part of symdiff.
//
// Copyright (C) 2019-2024 GoRE Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package symdiff

import (
	"strings"
)

// Special name prefixes the demangler emits for compiler generated objects.
var specialPrefixes = []string{
	"non-virtual thunk to ",
	"virtual thunk to ",
	"vtable for ",
	"typeinfo name for ",
	"typeinfo for ",
	"VTT for ",
	"construction vtable for ",
	"guard variable for ",
}

// Name is a demangled C++ symbol name split into its parts.
type Name struct {
	// Prefix is a special name prefix such as "vtable for".
	Prefix string
	// Scope is the chain of enclosing namespaces, classes and, for local
	// statics, functions.
	Scope []string
	// Base is the unqualified name, without template parameters.
	Base string
	// TemplateParameters holds the template arguments of Base.
	TemplateParameters string
	// Arguments is the parameter list of a callable.
	Arguments string
	// Qualifiers are trailing qualifiers of a member function, e.g. "const".
	Qualifiers string
	// Callable is set if the name has a parameter list.
	Callable bool
}

// ParseName splits a demangled name. Names that are not C++ (C or Go
// symbols) come back with an empty scope and the input as Base.
func ParseName(s string) Name {
	var n Name
	s = strings.TrimSpace(s)
	for _, p := range specialPrefixes {
		if strings.HasPrefix(s, p) {
			n.Prefix = strings.TrimSpace(p)
			s = s[len(p):]
			break
		}
	}

	parts := splitScope(s)
	if len(parts) == 0 {
		return n
	}
	last := parts[len(parts)-1]
	n.Scope = parts[:len(parts)-1]

	if open, close := argumentsBounds(last); open >= 0 {
		n.Callable = true
		n.Arguments = last[open+1 : close]
		n.Qualifiers = strings.TrimSpace(last[close+1:])
		last = strings.TrimSpace(last[:open])
	}

	if open := templateStart(last); open >= 0 {
		n.TemplateParameters = last[open+1 : len(last)-1]
		last = last[:open]
	}
	n.Base = last
	return n
}

// LocalStatic reports whether the name lives inside a function body.
func (n Name) LocalStatic() bool {
	for _, s := range n.Scope {
		if open, _ := argumentsBounds(s); open > 0 {
			return true
		}
	}
	return false
}

// Qualified returns the scope chain and base name joined by "::".
func (n Name) Qualified() string {
	base := n.Base
	if n.TemplateParameters != "" {
		base += "<" + n.TemplateParameters + ">"
	}
	if len(n.Scope) == 0 {
		return base
	}
	return strings.Join(n.Scope, "::") + "::" + base
}

// Key returns the identity key of the name.
func (n Name) Key() string {
	k := n.Qualified()
	if n.Callable {
		k = IdentityKey(nil, k, n.Arguments, true)
		if n.Qualifiers != "" {
			k += " " + n.Qualifiers
		}
	}
	if n.Prefix != "" {
		k = n.Prefix + " " + k
	}
	return k
}

// IdentityKey composes an identity key from a scope chain, a name and, for
// callables, a parameter list.
func IdentityKey(scope []string, name, arguments string, callable bool) string {
	var sb strings.Builder
	for _, s := range scope {
		sb.WriteString(s)
		sb.WriteString("::")
	}
	sb.WriteString(name)
	if callable {
		sb.WriteByte('(')
		sb.WriteString(arguments)
		sb.WriteByte(')')
	}
	return sb.String()
}

// InternalKey qualifies the key of a symbol with internal linkage with the
// translation unit it was defined in.
func InternalKey(key, unit string) string {
	if unit == "" {
		return key
	}
	return key + "@" + unit
}

// splitScope splits s at every "::" that isn't nested in brackets.
func splitScope(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		if depth == 0 && isOperatorAt(s, i) {
			i = skipOperator(s, i) - 1
			continue
		}
		switch s[i] {
		case '<', '(', '[':
			depth++
		case '>', ')', ']':
			if depth > 0 {
				depth--
			}
		case ':':
			if depth == 0 && i+1 < len(s) && s[i+1] == ':' {
				parts = append(parts, s[start:i])
				start = i + 2
				i++
			}
		}
	}
	return append(parts, s[start:])
}

func isOperatorAt(s string, i int) bool {
	const op = "operator"
	if !strings.HasPrefix(s[i:], op) {
		return false
	}
	if i > 0 && isIdentByte(s[i-1]) {
		return false
	}
	j := i + len(op)
	return j < len(s) && !isIdentByte(s[j])
}

// skipOperator returns the index right after the operator token at i.
func skipOperator(s string, i int) int {
	j := i + len("operator")
	for j < len(s) && s[j] == ' ' {
		j++
	}
	if strings.HasPrefix(s[j:], "()") || strings.HasPrefix(s[j:], "[]") {
		return j + 2
	}
	for j < len(s) && strings.IndexByte("<>=!+-*/%^&|~,", s[j]) >= 0 {
		j++
	}
	return j
}

func isIdentByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

// argumentsBounds finds the outermost trailing parameter list of s. Trailing
// qualifiers after the closing parenthesis are allowed.
func argumentsBounds(s string) (int, int) {
	close := strings.LastIndexByte(s, ')')
	if close < 0 {
		return -1, -1
	}
	for _, r := range strings.TrimSpace(s[close+1:]) {
		if !(r == ' ' || r == '&' || isIdentByte(byte(r))) {
			return -1, -1
		}
	}
	depth := 0
	for i := close; i >= 0; i-- {
		switch s[i] {
		case ')':
			depth++
		case '(':
			depth--
			if depth == 0 {
				return i, close
			}
		}
	}
	return -1, -1
}

// templateStart returns the index of the "<" that opens the template
// parameters closing s, or -1.
func templateStart(s string) int {
	if !strings.HasSuffix(s, ">") || strings.HasPrefix(s, "operator") {
		return -1
	}
	depth := 0
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case '>':
			depth++
		case '<':
			depth--
			if depth == 0 {
				if i == 0 {
					return -1
				}
				return i
			}
		}
	}
	return -1
}
