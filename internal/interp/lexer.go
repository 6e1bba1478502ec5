package interp

import (
	"strings"
	"unicode"
)

// lexer tokenizes source into a flat token stream, synthesizing INDENT and
// DEDENT tokens from leading whitespace the way Python's tokenizer does.
// Tabs count as 8 columns.
type lexer struct {
	src    []rune
	pos    int
	line   int
	col    int
	indent []int // indentation stack, always starts with 0
	parens int   // bracket depth; newlines inside brackets are ignored
	tokens []token
}

func lex(src string) ([]token, error) {
	l := &lexer{
		src:    []rune(src),
		line:   1,
		indent: []int{0},
	}
	if err := l.run(); err != nil {
		return nil, err
	}
	return l.tokens, nil
}

func (l *lexer) run() error {
	atLineStart := true
	for l.pos < len(l.src) {
		if atLineStart && l.parens == 0 {
			if err := l.handleIndent(); err != nil {
				return err
			}
			atLineStart = false
			continue
		}

		ch := l.src[l.pos]
		switch {
		case ch == '\n':
			l.advance()
			if l.parens == 0 {
				l.emitNewlineIfNeeded()
				atLineStart = true
			}
		case ch == '#':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.advance()
			}
		case ch == ' ' || ch == '\t' || ch == '\r':
			l.advance()
		case ch == '\\' && l.peekAt(1) == '\n':
			// Explicit line continuation.
			l.advance()
			l.advance()
		case ch == '"' || ch == '\'':
			if err := l.lexString(ch); err != nil {
				return err
			}
		case unicode.IsDigit(ch) || (ch == '.' && unicode.IsDigit(l.peekAt(1))):
			l.lexNumber()
		case isIdentStart(ch):
			l.lexIdent()
		default:
			if err := l.lexOperator(); err != nil {
				return err
			}
		}
	}

	l.emitNewlineIfNeeded()
	for len(l.indent) > 1 {
		l.indent = l.indent[:len(l.indent)-1]
		l.emit(tokDedent, "")
	}
	l.emit(tokEOF, "")
	return nil
}

// handleIndent measures leading whitespace and emits INDENT/DEDENT tokens.
// Blank and comment-only lines produce no tokens at all.
func (l *lexer) handleIndent() error {
	width := 0
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case ' ':
			width++
			l.advance()
		case '\t':
			width += 8 - width%8
			l.advance()
		case '\r':
			l.advance()
		default:
			goto measured
		}
	}
measured:
	if l.pos >= len(l.src) {
		return nil
	}
	if l.src[l.pos] == '\n' {
		l.advance()
		return nil
	}
	if l.src[l.pos] == '#' {
		for l.pos < len(l.src) && l.src[l.pos] != '\n' {
			l.advance()
		}
		return nil
	}

	current := l.indent[len(l.indent)-1]
	switch {
	case width > current:
		l.indent = append(l.indent, width)
		l.emit(tokIndent, "")
	case width < current:
		for len(l.indent) > 1 && l.indent[len(l.indent)-1] > width {
			l.indent = l.indent[:len(l.indent)-1]
			l.emit(tokDedent, "")
		}
		if l.indent[len(l.indent)-1] != width {
			return &SyntaxError{Line: l.line, Msg: "unindent does not match any outer indentation level"}
		}
	}
	return nil
}

func (l *lexer) lexString(quote rune) error {
	startLine := l.line
	l.advance() // opening quote

	// Triple-quoted strings span lines.
	triple := l.peekAt(0) == quote && l.peekAt(1) == quote
	if triple {
		l.advance()
		l.advance()
	}

	var sb strings.Builder
	for {
		if l.pos >= len(l.src) {
			return &SyntaxError{Line: startLine, Msg: "unterminated string literal"}
		}
		ch := l.src[l.pos]
		if ch == '\\' {
			l.advance()
			if l.pos >= len(l.src) {
				return &SyntaxError{Line: startLine, Msg: "unterminated string literal"}
			}
			esc := l.src[l.pos]
			l.advance()
			switch esc {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			case 'r':
				sb.WriteRune('\r')
			case '\\':
				sb.WriteRune('\\')
			case '\'':
				sb.WriteRune('\'')
			case '"':
				sb.WriteRune('"')
			case '0':
				sb.WriteRune(0)
			case '\n':
				// Escaped newline inside a string continues it.
			default:
				sb.WriteRune('\\')
				sb.WriteRune(esc)
			}
			continue
		}
		if triple {
			if ch == quote && l.peekAt(1) == quote && l.peekAt(2) == quote {
				l.advance()
				l.advance()
				l.advance()
				break
			}
			l.advance()
			sb.WriteRune(ch)
			continue
		}
		if ch == quote {
			l.advance()
			break
		}
		if ch == '\n' {
			return &SyntaxError{Line: startLine, Msg: "unterminated string literal"}
		}
		l.advance()
		sb.WriteRune(ch)
	}
	l.tokens = append(l.tokens, token{Kind: tokString, Text: sb.String(), Line: startLine})
	return nil
}

func (l *lexer) lexNumber() {
	start := l.pos
	line := l.line
	isFloat := false
	for l.pos < len(l.src) {
		ch := l.src[l.pos]
		if unicode.IsDigit(ch) || ch == '_' {
			l.advance()
		} else if ch == '.' && !isFloat && unicode.IsDigit(l.peekAt(1)) {
			isFloat = true
			l.advance()
		} else if (ch == 'e' || ch == 'E') && (unicode.IsDigit(l.peekAt(1)) || ((l.peekAt(1) == '+' || l.peekAt(1) == '-') && unicode.IsDigit(l.peekAt(2)))) {
			isFloat = true
			l.advance()
			if l.src[l.pos] == '+' || l.src[l.pos] == '-' {
				l.advance()
			}
		} else {
			break
		}
	}
	text := strings.ReplaceAll(string(l.src[start:l.pos]), "_", "")
	kind := tokInt
	if isFloat {
		kind = tokFloat
	}
	l.tokens = append(l.tokens, token{Kind: kind, Text: text, Line: line})
}

func (l *lexer) lexIdent() {
	start := l.pos
	line := l.line
	for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
		l.advance()
	}
	text := string(l.src[start:l.pos])
	kind := tokIdent
	if keywords[text] {
		kind = tokKeyword
	}
	l.tokens = append(l.tokens, token{Kind: kind, Text: text, Line: line})
}

var twoCharOps = map[string]bool{
	"==": true, "!=": true, "<=": true, ">=": true,
	"+=": true, "-=": true, "*=": true, "/=": true, "%=": true,
	"**": true, "//": true, "->": true,
}

func (l *lexer) lexOperator() error {
	line := l.line
	ch := l.src[l.pos]

	if l.pos+2 < len(l.src) {
		three := string(l.src[l.pos : l.pos+3])
		if three == "**=" || three == "//=" {
			l.advance()
			l.advance()
			l.advance()
			l.tokens = append(l.tokens, token{Kind: tokOp, Text: three, Line: line})
			return nil
		}
	}
	if l.pos+1 < len(l.src) {
		two := string(l.src[l.pos : l.pos+2])
		if twoCharOps[two] {
			l.advance()
			l.advance()
			l.tokens = append(l.tokens, token{Kind: tokOp, Text: two, Line: line})
			return nil
		}
	}

	switch ch {
	case '(', '[', '{':
		l.parens++
	case ')', ']', '}':
		if l.parens > 0 {
			l.parens--
		}
	case '+', '-', '*', '/', '%', '<', '>', '=', ',', ':', '.', '!':
		// single char operators
	default:
		return &SyntaxError{Line: line, Msg: "unexpected character " + string(ch)}
	}
	l.advance()
	l.tokens = append(l.tokens, token{Kind: tokOp, Text: string(ch), Line: line})
	return nil
}

func (l *lexer) emitNewlineIfNeeded() {
	if len(l.tokens) == 0 {
		return
	}
	last := l.tokens[len(l.tokens)-1].Kind
	if last == tokNewline || last == tokIndent || last == tokDedent {
		return
	}
	l.emit(tokNewline, "")
}

func (l *lexer) emit(kind tokenKind, text string) {
	l.tokens = append(l.tokens, token{Kind: kind, Text: text, Line: l.line})
}

func (l *lexer) advance() {
	if l.pos < len(l.src) {
		if l.src[l.pos] == '\n' {
			l.line++
			l.col = 0
		} else {
			l.col++
		}
		l.pos++
	}
}

func (l *lexer) peekAt(offset int) rune {
	if l.pos+offset < len(l.src) {
		return l.src[l.pos+offset]
	}
	return 0
}

func isIdentStart(ch rune) bool {
	return ch == '_' || unicode.IsLetter(ch)
}

func isIdentPart(ch rune) bool {
	return ch == '_' || unicode.IsLetter(ch) || unicode.IsDigit(ch)
}
