package formula

import (
	appErr "codeassess/pkg/errors"
)

// maxDepth bounds parenthesis and unary-minus nesting.
const maxDepth = 64

// parser evaluates while it parses:
//
//	expr    := term (('+'|'-') term)*
//	term    := unary (('*'|'/') unary)*
//	unary   := '-' unary | primary
//	primary := NUMBER | '(' expr ')' | VARIABLE | 'avg' '(' VARIABLE ')'
//
// Variables are substituted before tokenizing, so any identifier left here is unknown.
type parser struct {
	tokens []token
	pos    int
	depth  int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) parse() (float64, error) {
	value, err := p.expr()
	if err != nil {
		return 0, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return 0, unexpected(tok)
	}
	return value, nil
}

func (p *parser) expr() (float64, error) {
	left, err := p.term()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek().kind {
		case tokPlus:
			p.next()
			right, err := p.term()
			if err != nil {
				return 0, err
			}
			left += right
		case tokMinus:
			p.next()
			right, err := p.term()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *parser) term() (float64, error) {
	left, err := p.unary()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek().kind {
		case tokStar:
			p.next()
			right, err := p.unary()
			if err != nil {
				return 0, err
			}
			left *= right
		case tokSlash:
			op := p.next()
			right, err := p.unary()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, appErr.Newf(appErr.FormulaDivideByZero, "division by zero at %d", op.pos).
					WithDetail("position", op.pos)
			}
			left /= right
		default:
			return left, nil
		}
	}
}

func (p *parser) unary() (float64, error) {
	if p.peek().kind != tokMinus {
		return p.primary()
	}
	p.next()
	if err := p.enter(); err != nil {
		return 0, err
	}
	defer p.leave()
	value, err := p.unary()
	if err != nil {
		return 0, err
	}
	return -value, nil
}

func (p *parser) primary() (float64, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		return tok.value, nil
	case tokLParen:
		if err := p.enter(); err != nil {
			return 0, err
		}
		defer p.leave()
		value, err := p.expr()
		if err != nil {
			return 0, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return 0, unexpected(closing)
		}
		return value, nil
	case tokIdent:
		return 0, appErr.Newf(appErr.FormulaUnknownIdentifier, "unknown identifier %q at %d", tok.text, tok.pos).
			WithDetail("identifier", tok.text).
			WithDetail("position", tok.pos)
	}
	return 0, unexpected(tok)
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return appErr.Newf(appErr.FormulaParseError, "formula nested deeper than %d levels", maxDepth)
	}
	return nil
}

func (p *parser) leave() {
	p.depth--
}

func unexpected(tok token) error {
	return appErr.Newf(appErr.FormulaParseError, "unexpected %s at %d", tok.kind, tok.pos).
		WithDetail("position", tok.pos)
}
