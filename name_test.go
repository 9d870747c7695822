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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		in          string
		scope       []string
		base        string
		template    string
		arguments   string
		qualifiers  string
		prefix      string
		callable    bool
		localStatic bool
		key         string
	}{
		{in: "main", base: "main", key: "main"},
		{in: "fIStay(double)", base: "fIStay", arguments: "double", callable: true, key: "fIStay(double)"},
		{
			in: "Test::g(float, float)", scope: []string{"Test"}, base: "g",
			arguments: "float, float", callable: true, key: "Test::g(float, float)",
		},
		{
			in: "g()::lsvIStay", scope: []string{"g()"}, base: "lsvIStay",
			localStatic: true, key: "g()::lsvIStay",
		},
		{in: "vtable for Test", prefix: "vtable for", base: "Test", key: "vtable for Test"},
		{
			in: "Test::operator<(Test const&) const", scope: []string{"Test"}, base: "operator<",
			arguments: "Test const&", qualifiers: "const", callable: true,
			key: "Test::operator<(Test const&) const",
		},
		{
			in:    "std::vector<int, std::allocator<int> >::push_back(int const&)",
			scope: []string{"std", "vector<int, std::allocator<int> >"}, base: "push_back",
			arguments: "int const&", callable: true,
			key: "std::vector<int, std::allocator<int> >::push_back(int const&)",
		},
		{
			in: "(anonymous namespace)::helper()", scope: []string{"(anonymous namespace)"},
			base: "helper", callable: true, key: "(anonymous namespace)::helper()",
		},
		{
			in: "max<int>(int, int)", base: "max", template: "int", arguments: "int, int",
			callable: true, key: "max<int>(int, int)",
		},
		{
			in: "operator new(unsigned long)", base: "operator new", arguments: "unsigned long",
			callable: true, key: "operator new(unsigned long)",
		},
	}
	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			assert := assert.New(t)
			n := ParseName(test.in)
			if test.scope == nil {
				assert.Empty(n.Scope)
			} else {
				assert.Equal(test.scope, n.Scope)
			}
			assert.Equal(test.base, n.Base)
			assert.Equal(test.template, n.TemplateParameters)
			assert.Equal(test.arguments, n.Arguments)
			assert.Equal(test.qualifiers, n.Qualifiers)
			assert.Equal(test.prefix, n.Prefix)
			assert.Equal(test.callable, n.Callable)
			assert.Equal(test.localStatic, n.LocalStatic())
			assert.Equal(test.key, n.Key())
		})
	}
}

func TestIdentityKey(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("ns::Test::f(int, int)", IdentityKey([]string{"ns", "Test"}, "f", "int, int", true))
	assert.Equal("ns::var", IdentityKey([]string{"ns"}, "var", "", false))
	assert.Equal("f()", IdentityKey(nil, "f", "", true))
}

func TestInternalKey(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("counter@a.cpp", InternalKey("counter", "a.cpp"))
	assert.Equal("counter", InternalKey("counter", ""), "Without a unit the key is unchanged.")
}
