package interp

import (
	"strconv"
	"strings"
)

// parser builds the statement list from the token stream. Expressions use
// precedence climbing; statements are recursive descent over the
// INDENT/DEDENT structure the lexer produces.
type parser struct {
	tokens []token
	pos    int
}

func parse(src string) ([]stmt, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	var stmts []stmt
	for !p.at(tokEOF) {
		s, err := p.statement()
		if err != nil {
			return nil, err
		}
		if s != nil {
			stmts = append(stmts, s)
		}
	}
	return stmts, nil
}

func (p *parser) cur() token  { return p.tokens[p.pos] }
func (p *parser) at(k tokenKind) bool { return p.cur().Kind == k }

func (p *parser) atOp(text string) bool {
	t := p.cur()
	return t.Kind == tokOp && t.Text == text
}

func (p *parser) atKeyword(text string) bool {
	t := p.cur()
	return t.Kind == tokKeyword && t.Text == text
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return t
}

func (p *parser) expectOp(text string) error {
	if !p.atOp(text) {
		return &SyntaxError{Line: p.cur().Line, Msg: "expected " + strconv.Quote(text) + ", found " + p.cur().String()}
	}
	p.next()
	return nil
}

func (p *parser) expectNewline() error {
	if p.at(tokNewline) {
		p.next()
		return nil
	}
	if p.at(tokEOF) || p.at(tokDedent) {
		return nil
	}
	return &SyntaxError{Line: p.cur().Line, Msg: "expected end of statement, found " + p.cur().String()}
}

// block parses ":" NEWLINE INDENT stmt+ DEDENT, or a single inline
// statement after the colon.
func (p *parser) block() ([]stmt, error) {
	if err := p.expectOp(":"); err != nil {
		return nil, err
	}
	if !p.at(tokNewline) {
		s, err := p.simpleStatement()
		if err != nil {
			return nil, err
		}
		if err := p.expectNewline(); err != nil {
			return nil, err
		}
		return []stmt{s}, nil
	}
	p.next() // newline
	if !p.at(tokIndent) {
		return nil, &SyntaxError{Line: p.cur().Line, Msg: "expected an indented block"}
	}
	p.next()
	var stmts []stmt
	for !p.at(tokDedent) && !p.at(tokEOF) {
		s, err := p.statement()
		if err != nil {
			return nil, err
		}
		if s != nil {
			stmts = append(stmts, s)
		}
	}
	if p.at(tokDedent) {
		p.next()
	}
	return stmts, nil
}

func (p *parser) statement() (stmt, error) {
	for p.at(tokNewline) {
		p.next()
	}
	if p.at(tokEOF) || p.at(tokDedent) {
		return nil, nil
	}

	if p.at(tokKeyword) {
		switch p.cur().Text {
		case "if":
			return p.ifStatement()
		case "while":
			return p.whileStatement()
		case "for":
			return p.forStatement()
		case "def":
			return p.defStatement()
		}
	}

	s, err := p.simpleStatement()
	if err != nil {
		return nil, err
	}
	if err := p.expectNewline(); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *parser) simpleStatement() (stmt, error) {
	line := p.cur().Line
	if p.at(tokKeyword) {
		switch p.cur().Text {
		case "return":
			p.next()
			var val expr
			if !p.at(tokNewline) && !p.at(tokEOF) && !p.at(tokDedent) {
				v, err := p.expression()
				if err != nil {
					return nil, err
				}
				val = v
			}
			return &returnStmt{Value: val, Line: line}, nil
		case "break":
			p.next()
			return &breakStmt{Line: line}, nil
		case "continue":
			p.next()
			return &continueStmt{Line: line}, nil
		case "pass":
			p.next()
			return &passStmt{Line: line}, nil
		case "import":
			return p.importStatement()
		case "from":
			return p.fromImportStatement()
		case "del":
			p.next()
			target, err := p.expression()
			if err != nil {
				return nil, err
			}
			return &delStmt{Target: target, Line: line}, nil
		}
	}

	// Expression or assignment.
	left, err := p.expressionList()
	if err != nil {
		return nil, err
	}

	if p.at(tokOp) {
		op := p.cur().Text
		switch op {
		case "=", "+=", "-=", "*=", "/=", "%=", "//=", "**=":
			p.next()
			value, err := p.expressionList()
			if err != nil {
				return nil, err
			}
			if err := validAssignTarget(left); err != nil {
				return nil, &SyntaxError{Line: line, Msg: err.Error()}
			}
			return &assignStmt{Target: left, Value: value, Op: op, Line: line}, nil
		}
	}
	return &exprStmt{Expr: left, Line: line}, nil
}

func validAssignTarget(e expr) error {
	switch t := e.(type) {
	case *nameExpr, *indexExpr, *attrExpr:
		return nil
	case *tupleExpr:
		for _, el := range t.Elems {
			if err := validAssignTarget(el); err != nil {
				return err
			}
		}
		return nil
	default:
		return strErr("cannot assign to this expression")
	}
}

type strErr string

func (e strErr) Error() string { return string(e) }

func (p *parser) importStatement() (stmt, error) {
	line := p.next().Line // import
	module, err := p.dottedName()
	if err != nil {
		return nil, err
	}
	return &importStmt{Module: module, Line: line}, nil
}

func (p *parser) fromImportStatement() (stmt, error) {
	line := p.next().Line // from
	module, err := p.dottedName()
	if err != nil {
		return nil, err
	}
	if !p.atKeyword("import") {
		return nil, &SyntaxError{Line: line, Msg: "expected 'import' after module name"}
	}
	p.next()
	var names []string
	for {
		if !p.at(tokIdent) {
			return nil, &SyntaxError{Line: p.cur().Line, Msg: "expected name after 'import'"}
		}
		names = append(names, p.next().Text)
		if !p.atOp(",") {
			break
		}
		p.next()
	}
	return &importStmt{Module: module, Names: names, Line: line}, nil
}

func (p *parser) dottedName() (string, error) {
	if !p.at(tokIdent) {
		return "", &SyntaxError{Line: p.cur().Line, Msg: "expected module name"}
	}
	var sb strings.Builder
	sb.WriteString(p.next().Text)
	for p.atOp(".") {
		p.next()
		if !p.at(tokIdent) {
			return "", &SyntaxError{Line: p.cur().Line, Msg: "expected name after '.'"}
		}
		sb.WriteString(".")
		sb.WriteString(p.next().Text)
	}
	return sb.String(), nil
}

func (p *parser) ifStatement() (stmt, error) {
	line := p.next().Line // if
	node := &ifStmt{Line: line}

	cond, err := p.expression()
	if err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	node.Conds = append(node.Conds, cond)
	node.Blocks = append(node.Blocks, body)

	for p.atKeyword("elif") {
		p.next()
		cond, err := p.expression()
		if err != nil {
			return nil, err
		}
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		node.Conds = append(node.Conds, cond)
		node.Blocks = append(node.Blocks, body)
	}

	if p.atKeyword("else") {
		p.next()
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		node.Else = body
	}
	return node, nil
}

func (p *parser) whileStatement() (stmt, error) {
	line := p.next().Line // while
	cond, err := p.expression()
	if err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	return &whileStmt{Cond: cond, Body: body, Line: line}, nil
}

func (p *parser) forStatement() (stmt, error) {
	line := p.next().Line // for
	vars, err := p.nameList()
	if err != nil {
		return nil, err
	}
	if !p.atKeyword("in") {
		return nil, &SyntaxError{Line: p.cur().Line, Msg: "expected 'in' in for statement"}
	}
	p.next()
	iter, err := p.expression()
	if err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	return &forStmt{Vars: vars, Iter: iter, Body: body, Line: line}, nil
}

func (p *parser) nameList() ([]string, error) {
	var names []string
	for {
		if !p.at(tokIdent) {
			return nil, &SyntaxError{Line: p.cur().Line, Msg: "expected a name"}
		}
		names = append(names, p.next().Text)
		if !p.atOp(",") {
			break
		}
		p.next()
	}
	return names, nil
}

func (p *parser) defStatement() (stmt, error) {
	line := p.next().Line // def
	if !p.at(tokIdent) {
		return nil, &SyntaxError{Line: p.cur().Line, Msg: "expected function name"}
	}
	name := p.next().Text
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	var params []param
	for !p.atOp(")") {
		if !p.at(tokIdent) {
			return nil, &SyntaxError{Line: p.cur().Line, Msg: "expected parameter name"}
		}
		pm := param{Name: p.next().Text}
		if p.atOp("=") {
			p.next()
			dv, err := p.expression()
			if err != nil {
				return nil, err
			}
			pm.Default = dv
		}
		params = append(params, pm)
		if p.atOp(",") {
			p.next()
		} else {
			break
		}
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	return &defStmt{Name: name, Params: params, Body: body, Line: line}, nil
}

// expressionList parses comma-separated expressions into a tuple, used for
// statement-level "a, b = f()" and bare tuples.
func (p *parser) expressionList() (expr, error) {
	first, err := p.expression()
	if err != nil {
		return nil, err
	}
	if !p.atOp(",") {
		return first, nil
	}
	elems := []expr{first}
	for p.atOp(",") {
		p.next()
		if p.at(tokNewline) || p.at(tokEOF) || p.atOp("=") {
			break
		}
		e, err := p.expression()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
	}
	return &tupleExpr{Elems: elems, Line: p.cur().Line}, nil
}

// expression parses the ternary level.
func (p *parser) expression() (expr, error) {
	e, err := p.orExpr()
	if err != nil {
		return nil, err
	}
	if p.atKeyword("if") {
		line := p.next().Line
		cond, err := p.orExpr()
		if err != nil {
			return nil, err
		}
		if !p.atKeyword("else") {
			return nil, &SyntaxError{Line: p.cur().Line, Msg: "expected 'else' in conditional expression"}
		}
		p.next()
		alt, err := p.expression()
		if err != nil {
			return nil, err
		}
		return &condExpr{Cond: cond, Then: e, Else: alt, Line: line}, nil
	}
	return e, nil
}

func (p *parser) orExpr() (expr, error) {
	left, err := p.andExpr()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("or") {
		line := p.next().Line
		right, err := p.andExpr()
		if err != nil {
			return nil, err
		}
		left = &boolExpr{Op: "or", Left: left, Right: right, Line: line}
	}
	return left, nil
}

func (p *parser) andExpr() (expr, error) {
	left, err := p.notExpr()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("and") {
		line := p.next().Line
		right, err := p.notExpr()
		if err != nil {
			return nil, err
		}
		left = &boolExpr{Op: "and", Left: left, Right: right, Line: line}
	}
	return left, nil
}

func (p *parser) notExpr() (expr, error) {
	if p.atKeyword("not") {
		line := p.next().Line
		operand, err := p.notExpr()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{Op: "not", Operand: operand, Line: line}, nil
	}
	return p.comparison()
}

func (p *parser) comparison() (expr, error) {
	left, err := p.arith()
	if err != nil {
		return nil, err
	}
	var ops []string
	var rest []expr
	for {
		op := ""
		switch {
		case p.atOp("=="), p.atOp("!="), p.atOp("<"), p.atOp("<="), p.atOp(">"), p.atOp(">="):
			op = p.next().Text
		case p.atKeyword("in"):
			p.next()
			op = "in"
		case p.atKeyword("not"):
			// "not in"
			p.next()
			if !p.atKeyword("in") {
				return nil, &SyntaxError{Line: p.cur().Line, Msg: "expected 'in' after 'not'"}
			}
			p.next()
			op = "not in"
		default:
			if len(ops) == 0 {
				return left, nil
			}
			return &compareExpr{First: left, Ops: ops, Rest: rest, Line: p.cur().Line}, nil
		}
		right, err := p.arith()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
		rest = append(rest, right)
	}
}

func (p *parser) arith() (expr, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for p.atOp("+") || p.atOp("-") {
		t := p.next()
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{Op: t.Text, Left: left, Right: right, Line: t.Line}
	}
	return left, nil
}

func (p *parser) term() (expr, error) {
	left, err := p.factor()
	if err != nil {
		return nil, err
	}
	for p.atOp("*") || p.atOp("/") || p.atOp("//") || p.atOp("%") {
		t := p.next()
		right, err := p.factor()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{Op: t.Text, Left: left, Right: right, Line: t.Line}
	}
	return left, nil
}

func (p *parser) factor() (expr, error) {
	if p.atOp("-") || p.atOp("+") {
		t := p.next()
		operand, err := p.factor()
		if err != nil {
			return nil, err
		}
		if t.Text == "+" {
			return operand, nil
		}
		return &unaryExpr{Op: "-", Operand: operand, Line: t.Line}, nil
	}
	return p.power()
}

func (p *parser) power() (expr, error) {
	base, err := p.postfix()
	if err != nil {
		return nil, err
	}
	if p.atOp("**") {
		t := p.next()
		// Right associative.
		exp, err := p.factor()
		if err != nil {
			return nil, err
		}
		return &binaryExpr{Op: "**", Left: base, Right: exp, Line: t.Line}, nil
	}
	return base, nil
}

func (p *parser) postfix() (expr, error) {
	e, err := p.atom()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.atOp("("):
			line := p.next().Line
			args, kwargs, err := p.callArgs()
			if err != nil {
				return nil, err
			}
			e = &callExpr{Fn: e, Args: args, Kwargs: kwargs, Line: line}
		case p.atOp("["):
			line := p.next().Line
			e2, err := p.subscript(e, line)
			if err != nil {
				return nil, err
			}
			e = e2
		case p.atOp("."):
			p.next()
			if !p.at(tokIdent) {
				return nil, &SyntaxError{Line: p.cur().Line, Msg: "expected attribute name after '.'"}
			}
			name := p.next()
			e = &attrExpr{Obj: e, Name: name.Text, Line: name.Line}
		default:
			return e, nil
		}
	}
}

func (p *parser) subscript(obj expr, line int) (expr, error) {
	var start, stop expr
	var err error
	isSlice := false

	if !p.atOp(":") {
		start, err = p.expression()
		if err != nil {
			return nil, err
		}
	}
	if p.atOp(":") {
		isSlice = true
		p.next()
		if !p.atOp("]") {
			stop, err = p.expression()
			if err != nil {
				return nil, err
			}
		}
	}
	if err := p.expectOp("]"); err != nil {
		return nil, err
	}
	if isSlice {
		return &sliceExpr{Obj: obj, Start: start, Stop: stop, Line: line}, nil
	}
	return &indexExpr{Obj: obj, Index: start, Line: line}, nil
}

func (p *parser) callArgs() ([]expr, map[string]expr, error) {
	var args []expr
	var kwargs map[string]expr
	for !p.atOp(")") {
		// keyword argument: NAME '=' expr
		if p.at(tokIdent) && p.pos+1 < len(p.tokens) &&
			p.tokens[p.pos+1].Kind == tokOp && p.tokens[p.pos+1].Text == "=" {
			name := p.next().Text
			p.next() // '='
			v, err := p.expression()
			if err != nil {
				return nil, nil, err
			}
			if kwargs == nil {
				kwargs = make(map[string]expr)
			}
			kwargs[name] = v
		} else {
			v, err := p.expression()
			if err != nil {
				return nil, nil, err
			}
			args = append(args, v)
		}
		if p.atOp(",") {
			p.next()
		} else {
			break
		}
	}
	if err := p.expectOp(")"); err != nil {
		return nil, nil, err
	}
	return args, kwargs, nil
}

func (p *parser) atom() (expr, error) {
	t := p.cur()
	switch {
	case t.Kind == tokInt:
		p.next()
		n, err := strconv.ParseInt(t.Text, 10, 64)
		if err != nil {
			return nil, &SyntaxError{Line: t.Line, Msg: "invalid integer literal " + t.Text}
		}
		return &literalExpr{Value: IntValue(n), Line: t.Line}, nil
	case t.Kind == tokFloat:
		p.next()
		f, err := strconv.ParseFloat(t.Text, 64)
		if err != nil {
			return nil, &SyntaxError{Line: t.Line, Msg: "invalid float literal " + t.Text}
		}
		return &literalExpr{Value: FloatValue(f), Line: t.Line}, nil
	case t.Kind == tokString:
		p.next()
		return &literalExpr{Value: StrValue(t.Text), Line: t.Line}, nil
	case t.Kind == tokKeyword && t.Text == "True":
		p.next()
		return &literalExpr{Value: BoolValue(true), Line: t.Line}, nil
	case t.Kind == tokKeyword && t.Text == "False":
		p.next()
		return &literalExpr{Value: BoolValue(false), Line: t.Line}, nil
	case t.Kind == tokKeyword && t.Text == "None":
		p.next()
		return &literalExpr{Value: theNil, Line: t.Line}, nil
	case t.Kind == tokIdent:
		p.next()
		return &nameExpr{Name: t.Text, Line: t.Line}, nil
	case p.atOp("("):
		p.next()
		if p.atOp(")") {
			p.next()
			return &tupleExpr{Line: t.Line}, nil
		}
		inner, err := p.expression()
		if err != nil {
			return nil, err
		}
		if p.atOp(",") {
			elems := []expr{inner}
			for p.atOp(",") {
				p.next()
				if p.atOp(")") {
					break
				}
				e, err := p.expression()
				if err != nil {
					return nil, err
				}
				elems = append(elems, e)
			}
			if err := p.expectOp(")"); err != nil {
				return nil, err
			}
			return &tupleExpr{Elems: elems, Line: t.Line}, nil
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return inner, nil
	case p.atOp("["):
		return p.listOrComprehension()
	case p.atOp("{"):
		return p.dictLiteral()
	}
	return nil, &SyntaxError{Line: t.Line, Msg: "unexpected " + t.String()}
}

func (p *parser) listOrComprehension() (expr, error) {
	line := p.next().Line // '['
	if p.atOp("]") {
		p.next()
		return &listExpr{Line: line}, nil
	}
	first, err := p.expression()
	if err != nil {
		return nil, err
	}

	if p.atKeyword("for") {
		p.next()
		vars, err := p.nameList()
		if err != nil {
			return nil, err
		}
		if !p.atKeyword("in") {
			return nil, &SyntaxError{Line: p.cur().Line, Msg: "expected 'in' in comprehension"}
		}
		p.next()
		// The iterable stops below the ternary level so a trailing "if"
		// reads as the comprehension filter.
		iter, err := p.orExpr()
		if err != nil {
			return nil, err
		}
		var cond expr
		if p.atKeyword("if") {
			p.next()
			cond, err = p.expression()
			if err != nil {
				return nil, err
			}
		}
		if err := p.expectOp("]"); err != nil {
			return nil, err
		}
		return &compExpr{Out: first, Vars: vars, Iter: iter, Cond: cond, Line: line}, nil
	}

	elems := []expr{first}
	for p.atOp(",") {
		p.next()
		if p.atOp("]") {
			break
		}
		e, err := p.expression()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
	}
	if err := p.expectOp("]"); err != nil {
		return nil, err
	}
	return &listExpr{Elems: elems, Line: line}, nil
}

func (p *parser) dictLiteral() (expr, error) {
	line := p.next().Line // '{'
	node := &dictExpr{Line: line}
	for !p.atOp("}") {
		k, err := p.expression()
		if err != nil {
			return nil, err
		}
		if err := p.expectOp(":"); err != nil {
			return nil, err
		}
		v, err := p.expression()
		if err != nil {
			return nil, err
		}
		node.Keys = append(node.Keys, k)
		node.Values = append(node.Values, v)
		if p.atOp(",") {
			p.next()
		} else {
			break
		}
	}
	if err := p.expectOp("}"); err != nil {
		return nil, err
	}
	return node, nil
}
