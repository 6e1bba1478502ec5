package interp

import "fmt"

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNewline
	tokIndent
	tokDedent

	tokIdent
	tokInt
	tokFloat
	tokString

	tokKeyword // if, elif, else, while, for, in, def, return, break, continue, pass, import, from, not, and, or, lambda, True, False, None

	tokOp // operators and punctuation
)

type token struct {
	Kind tokenKind
	Text string
	Line int
	Col  int
}

func (t token) String() string {
	switch t.Kind {
	case tokEOF:
		return "end of input"
	case tokNewline:
		return "newline"
	case tokIndent:
		return "indent"
	case tokDedent:
		return "dedent"
	default:
		return fmt.Sprintf("%q", t.Text)
	}
}

var keywords = map[string]bool{
	"if": true, "elif": true, "else": true,
	"while": true, "for": true, "in": true,
	"def": true, "return": true,
	"break": true, "continue": true, "pass": true,
	"import": true, "from": true,
	"not": true, "and": true, "or": true,
	"True": true, "False": true, "None": true,
	"del": true,
}

// SyntaxError is a lexing or parsing failure with a source position.
type SyntaxError struct {
	Line int
	Col  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at line %d: %s", e.Line, e.Msg)
}
