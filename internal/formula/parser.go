package formula

import "fmt"

// totalIdent is the only variable an expression can reference.
const totalIdent = "total"

type parser struct {
	tokens []token
	pos    int
	depth  int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > MaxDepth {
		return fmt.Errorf("%w: limit is %d levels", ErrTooDeep, MaxDepth)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

// expr := term (('+' | '-') term)*
func (p *parser) parseExpr() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokPlus && tok.kind != tokMinus {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tok.text[0], left: left, right: right}
	}
}

// term := unary (('*' | '/') unary)*
func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokStar && tok.kind != tokSlash {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tok.text[0], left: left, right: right}
	}
}

// unary := ('+' | '-') unary | primary
func (p *parser) parseUnary() (node, error) {
	tok := p.peek()
	if tok.kind != tokPlus && tok.kind != tokMinus {
		return p.parsePrimary()
	}

	p.next()
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if tok.kind == tokPlus {
		return operand, nil
	}
	return &negNode{operand: operand}, nil
}

// primary := number | total | call | '(' expr ')'
func (p *parser) parsePrimary() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		return numberNode(tok.num), nil
	case tokIdent:
		if tok.text == totalIdent {
			return totalNode{}, nil
		}
		fn, ok := functions[tok.text]
		if !ok {
			return nil, fmt.Errorf("%w: unknown name %q at position %d", ErrSyntax, tok.text, tok.pos)
		}
		return p.parseCall(tok, fn)
	case tokLParen:
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()

		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return inner, nil
	default:
		return nil, fmt.Errorf("%w: unexpected %q at position %d", ErrSyntax, tok.text, tok.pos)
	}
}

func (p *parser) parseCall(name token, fn function) (node, error) {
	if err := p.expect(tokLParen, "("); err != nil {
		return nil, fmt.Errorf("%w: %s must be called", err, name.text)
	}
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	var args []node
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}

	if len(args) < fn.minArgs || (fn.maxArgs > 0 && len(args) > fn.maxArgs) {
		return nil, fmt.Errorf("%w: %s takes %s, got %d", ErrSyntax, name.text, fn.arity(), len(args))
	}
	return &callNode{name: name.text, fn: fn, args: args}, nil
}

func (p *parser) expect(kind tokenKind, want string) error {
	tok := p.next()
	if tok.kind != kind {
		return fmt.Errorf("%w: expected %q at position %d, found %q", ErrSyntax, want, tok.pos, tok.text)
	}
	return nil
}
