// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package cnd compiles Compact Node Definition sources into the
// schema descriptors used for class selection and property typing.
package cnd

import (
	"strings"

	"github.com/capsule/capsuled"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokSym
	tokQName
	tokString
)

type token struct {
	kind tokenKind
	text string
}

func (t token) isSym(s string) bool {
	return t.kind == tokSym && t.text == s
}

// isNameish reports whether the token can stand for a qualified name;
// quoted strings are accepted wherever names are.
func (t token) isNameish() bool {
	return t.kind == tokQName || t.kind == tokString
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokString:
		return "'" + t.text + "'"
	default:
		return t.text
	}
}

func isIdentInitial(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdent(c byte) bool {
	return isIdentInitial(c) || c >= '0' && c <= '9' || c == ':' || c == '_'
}

// lexer produces tokens with a one-token pushback buffer.
type lexer struct {
	src    string
	pos    int
	staged *token
}

func newLexer(src string) *lexer {
	return &lexer{src: src}
}

func (l *lexer) pushBack(t token) {
	l.staged = &t
}

func (l *lexer) next() (token, error) {
	if l.staged != nil {
		t := *l.staged
		l.staged = nil
		return t, nil
	}
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			l.pos++
		case c == '#':
			l.skipLine()
		case c == '/':
			if l.pos+1 < len(l.src) && l.src[l.pos+1] == '/' {
				l.skipLine()
				continue
			}
			l.pos++
			return token{kind: tokSym, text: "/"}, nil
		case strings.IndexByte("<>=[]-+(),*!", c) >= 0:
			l.pos++
			return token{kind: tokSym, text: string(c)}, nil
		case isIdentInitial(c):
			start := l.pos
			for l.pos < len(l.src) && isIdent(l.src[l.pos]) {
				l.pos++
			}
			return token{kind: tokQName, text: l.src[start:l.pos]}, nil
		case c == '\'' || c == '"':
			l.pos++
			start := l.pos
			for l.pos < len(l.src) && l.src[l.pos] != c {
				l.pos++
			}
			if l.pos >= len(l.src) {
				return token{}, capsuled.ErrSchema.New("unterminated string")
			}
			text := l.src[start:l.pos]
			l.pos++
			return token{kind: tokString, text: text}, nil
		default:
			return token{}, capsuled.ErrSchema.New("unexpected character %q", c)
		}
	}
	return token{kind: tokEOF}, nil
}

func (l *lexer) skipLine() {
	for l.pos < len(l.src) && l.src[l.pos] != '\n' {
		l.pos++
	}
}
