package formula

import (
	"fmt"
	"strconv"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

var punctuation = map[byte]tokenKind{
	'+': tokPlus,
	'-': tokMinus,
	'*': tokStar,
	'/': tokSlash,
	'(': tokLParen,
	')': tokRParen,
	',': tokComma,
}

func tokenize(src string) ([]token, error) {
	tokens := make([]token, 0, len(src)/2+1)

	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			end := scanNumber(src, i)
			text := src[i:end]
			v, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid number %q at position %d", ErrSyntax, text, i)
			}
			tokens = append(tokens, token{kind: tokNumber, text: text, num: v, pos: i})
			i = end
		case isIdentStart(c):
			end := i + 1
			for end < len(src) && isIdentPart(src[end]) {
				end++
			}
			tokens = append(tokens, token{kind: tokIdent, text: src[i:end], pos: i})
			i = end
		case c == '"' || c == '\'':
			return nil, fmt.Errorf("%w: string literals are not allowed (position %d)", ErrSyntax, i)
		default:
			kind, ok := punctuation[c]
			if !ok {
				return nil, fmt.Errorf("%w: unexpected character %q at position %d", ErrSyntax, c, i)
			}
			tokens = append(tokens, token{kind: kind, text: string(c), pos: i})
			i++
		}
	}

	return append(tokens, token{kind: tokEOF, text: "end of formula", pos: len(src)}), nil
}

// scanNumber returns the end offset of the numeric literal starting at i:
// digits, an optional fraction and an optional exponent.
func scanNumber(src string, i int) int {
	for i < len(src) && isDigit(src[i]) {
		i++
	}
	if i < len(src) && src[i] == '.' {
		i++
		for i < len(src) && isDigit(src[i]) {
			i++
		}
	}
	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if j < len(src) && isDigit(src[j]) {
			for j < len(src) && isDigit(src[j]) {
				j++
			}
			i = j
		}
	}
	return i
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }
