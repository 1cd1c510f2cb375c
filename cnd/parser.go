// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package cnd

import (
	"strings"

	"github.com/capsule/capsuled"
	"github.com/capsule/capsuled/schema"
)

// PropInfo is the raw record of one property declaration.
type PropInfo struct {
	Name        string
	TypeName    string
	Defaults    []string
	Options     schema.PropOptions
	Constraints []string
}

// NodeInfo is the raw record of one child node declaration.
type NodeInfo struct {
	Name          string
	RequiredTypes []string
	DefaultType   string
	Options       schema.PropOptions
}

// TypeInfo is the raw record of one type definition.
type TypeInfo struct {
	Name       string
	Supertypes []string
	Orderable  bool
	Mixin      bool
	Properties []PropInfo
	Nodes      []NodeInfo
}

var okTypeNames = map[string]bool{
	"string": true, "binary": true, "long": true, "double": true,
	"boolean": true, "date": true, "name": true, "path": true,
	"reference": true, "undefined": true, "*": true,
}

var okVersion = map[string]bool{
	"copy": true, "version": true, "initialize": true,
	"compute": true, "ignore": true, "abort": true,
}

var optionAliases = map[string]string{
	"primary": "primary", "pri": "primary", "!": "primary",
	"autocreated": "autocreated", "aut": "autocreated", "a": "autocreated",
	"mandatory": "mandatory", "man": "mandatory", "m": "mandatory",
	"multiple": "multiple", "mul": "multiple", "*": "multiple",
	"protected": "protected",
}

// parser turns CND source into raw type records.
type parser struct {
	lex *lexer
}

// parse returns the declared namespaces and type definitions in
// declaration order.
func parse(src string) (map[string]string, []*TypeInfo, error) {
	p := &parser{lex: newLexer(src)}
	return p.getData()
}

func (p *parser) getData() (map[string]string, []*TypeInfo, error) {
	namespaces := make(map[string]string)
	var types []*TypeInfo
	for {
		tok, err := p.lex.next()
		if err != nil {
			return nil, nil, err
		}
		if tok.kind == tokEOF {
			return namespaces, types, nil
		}

		if tok.isSym("<") {
			ns, uri, err := p.getNamespace()
			if err != nil {
				return nil, nil, err
			}
			namespaces[ns] = uri
			continue
		}

		if !tok.isSym("[") {
			return nil, nil, unexpected(tok)
		}
		info, err := p.getTypeDef()
		if err != nil {
			return nil, nil, err
		}
		types = append(types, info)
	}
}

func (p *parser) getNamespace() (string, string, error) {
	tok, err := p.lex.next()
	if err != nil {
		return "", "", err
	}
	if !tok.isNameish() {
		return "", "", unexpected(tok)
	}
	ns := tok.text
	if err := p.expectSym("="); err != nil {
		return "", "", err
	}
	tok, err = p.lex.next()
	if err != nil {
		return "", "", err
	}
	if tok.kind != tokString {
		return "", "", unexpected(tok)
	}
	uri := tok.text
	if err := p.expectSym(">"); err != nil {
		return "", "", err
	}
	return ns, uri, nil
}

func (p *parser) getTypeDef() (*TypeInfo, error) {
	tok, err := p.lex.next()
	if err != nil {
		return nil, err
	}
	if !tok.isNameish() {
		return nil, unexpected(tok)
	}
	info := &TypeInfo{Name: tok.text}
	if err := p.expectSym("]"); err != nil {
		return nil, err
	}

	info.Supertypes, err = p.getSuperTypes()
	if err != nil {
		return nil, err
	}
	if err := p.getNodeTypeOptions(info); err != nil {
		return nil, err
	}

	for {
		tok, err := p.lex.next()
		if err != nil {
			return nil, err
		}
		switch {
		case tok.isSym("-"):
			prop, err := p.getProperty()
			if err != nil {
				return nil, err
			}
			info.Properties = append(info.Properties, prop)
		case tok.isSym("+"):
			node, err := p.getNode()
			if err != nil {
				return nil, err
			}
			info.Nodes = append(info.Nodes, node)
		case tok.kind == tokEOF || tok.isSym("<") || tok.isSym("["):
			p.lex.pushBack(tok)
			return info, nil
		default:
			return nil, unexpected(tok)
		}
	}
}

func (p *parser) getSuperTypes() ([]string, error) {
	tok, err := p.lex.next()
	if err != nil {
		return nil, err
	}
	if !tok.isSym(">") {
		p.lex.pushBack(tok)
		return nil, nil
	}
	var supertypes []string
	for {
		tok, err := p.lex.next()
		if err != nil {
			return nil, err
		}
		if !tok.isNameish() {
			return nil, unexpected(tok)
		}
		supertypes = append(supertypes, tok.text)
		tok, err = p.lex.next()
		if err != nil {
			return nil, err
		}
		if !tok.isSym(",") {
			p.lex.pushBack(tok)
			return supertypes, nil
		}
	}
}

func (p *parser) getNodeTypeOptions(info *TypeInfo) error {
	for {
		tok, err := p.lex.next()
		if err != nil {
			return err
		}
		if tok.kind != tokQName {
			p.lex.pushBack(tok)
			return nil
		}
		switch strings.ToLower(tok.text) {
		case "o", "ord", "orderable":
			info.Orderable = true
		case "m", "mix", "mixin":
			info.Mixin = true
		default:
			p.lex.pushBack(tok)
			return nil
		}
	}
}

// getOptions parses per-entry options, including the symbol aliases
// "!" (primary) and "*" (multiple) and the version keywords.
func (p *parser) getOptions() (schema.PropOptions, error) {
	options := schema.PropOptions{Version: "copy"}
	for {
		tok, err := p.lex.next()
		if err != nil {
			return options, err
		}
		var value string
		switch {
		case tok.isSym("!") || tok.isSym("*"):
			value = tok.text
		case tok.kind == tokQName:
			value = strings.ToLower(tok.text)
		default:
			p.lex.pushBack(tok)
			return options, nil
		}
		if okVersion[value] {
			options.Version = value
			continue
		}
		switch optionAliases[value] {
		case "primary":
			options.Primary = true
		case "autocreated":
			options.Autocreated = true
		case "mandatory":
			options.Mandatory = true
		case "multiple":
			options.Multiple = true
		case "protected":
			options.Protected = true
		default:
			return options, unexpected(tok)
		}
	}
}

func (p *parser) getProperty() (PropInfo, error) {
	var prop PropInfo
	tok, err := p.lex.next()
	if err != nil {
		return prop, err
	}
	switch {
	case tok.isSym("*"):
		prop.Name = "*"
	case tok.isNameish():
		prop.Name = tok.text
	default:
		return prop, unexpected(tok)
	}

	// Property type; defaults to string when omitted.
	tok, err = p.lex.next()
	if err != nil {
		return prop, err
	}
	if tok.isSym("(") {
		tok, err = p.lex.next()
		if err != nil {
			return prop, err
		}
		var typeName string
		if tok.kind == tokQName {
			typeName = strings.ToLower(tok.text)
		} else if tok.isSym("*") {
			typeName = "*"
		} else {
			return prop, unexpected(tok)
		}
		if !okTypeNames[typeName] {
			return prop, capsuled.ErrSchema.New("unknown property type %q", tok.text)
		}
		prop.TypeName = typeName
		if err := p.expectSym(")"); err != nil {
			return prop, err
		}
	} else {
		p.lex.pushBack(tok)
		prop.TypeName = "string"
	}

	tok, err = p.lex.next()
	if err != nil {
		return prop, err
	}
	if tok.isSym("=") {
		prop.Defaults, err = p.getStringList()
		if err != nil {
			return prop, err
		}
	} else {
		p.lex.pushBack(tok)
	}

	prop.Options, err = p.getOptions()
	if err != nil {
		return prop, err
	}

	tok, err = p.lex.next()
	if err != nil {
		return prop, err
	}
	if tok.isSym("<") {
		prop.Constraints, err = p.getStringList()
		if err != nil {
			return prop, err
		}
	} else {
		p.lex.pushBack(tok)
	}
	return prop, nil
}

func (p *parser) getNode() (NodeInfo, error) {
	var node NodeInfo
	tok, err := p.lex.next()
	if err != nil {
		return node, err
	}
	switch {
	case tok.isSym("*"):
		node.Name = "*"
	case tok.isNameish():
		node.Name = tok.text
	default:
		return node, unexpected(tok)
	}

	tok, err = p.lex.next()
	if err != nil {
		return node, err
	}
	if tok.isSym("(") {
		node.RequiredTypes, err = p.getQNameList()
		if err != nil {
			return node, err
		}
		if err := p.expectSym(")"); err != nil {
			return node, err
		}
	} else {
		p.lex.pushBack(tok)
	}

	tok, err = p.lex.next()
	if err != nil {
		return node, err
	}
	if tok.isSym("=") {
		tok, err = p.lex.next()
		if err != nil {
			return node, err
		}
		if !tok.isNameish() {
			return node, unexpected(tok)
		}
		node.DefaultType = tok.text
	} else {
		p.lex.pushBack(tok)
	}

	node.Options, err = p.getOptions()
	return node, err
}

func (p *parser) getStringList() ([]string, error) {
	return p.getList(func(t token) bool { return t.kind == tokString })
}

func (p *parser) getQNameList() ([]string, error) {
	return p.getList(token.isNameish)
}

func (p *parser) getList(accept func(token) bool) ([]string, error) {
	var items []string
	for {
		tok, err := p.lex.next()
		if err != nil {
			return nil, err
		}
		if !accept(tok) {
			return nil, unexpected(tok)
		}
		items = append(items, tok.text)
		tok, err = p.lex.next()
		if err != nil {
			return nil, err
		}
		if !tok.isSym(",") {
			p.lex.pushBack(tok)
			return items, nil
		}
	}
}

func (p *parser) expectSym(s string) error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	if !tok.isSym(s) {
		return unexpected(tok)
	}
	return nil
}

func unexpected(tok token) error {
	return capsuled.ErrSchema.New("unexpected token %s", tok)
}
