package interp

// Statement nodes.

type stmt interface{ stmtNode() }

type exprStmt struct {
	Expr expr
	Line int
}

type assignStmt struct {
	Target expr // nameExpr, indexExpr, or attrExpr
	Value  expr
	Op     string // "=" or an augmented op like "+="
	Line   int
}

type ifStmt struct {
	Conds  []expr // one per if/elif branch
	Blocks [][]stmt
	Else   []stmt
	Line   int
}

type whileStmt struct {
	Cond expr
	Body []stmt
	Line int
}

type forStmt struct {
	Vars []string // one name, or several for tuple unpacking
	Iter expr
	Body []stmt
	Line int
}

type defStmt struct {
	Name   string
	Params []param
	Body   []stmt
	Line   int
}

type param struct {
	Name    string
	Default expr // nil when required
}

type returnStmt struct {
	Value expr // nil for bare return
	Line  int
}

type breakStmt struct{ Line int }
type continueStmt struct{ Line int }
type passStmt struct{ Line int }

type importStmt struct {
	Module string   // dotted module path
	Names  []string // non-empty for "from module import a, b"
	Line   int
}

type delStmt struct {
	Target expr
	Line   int
}

func (*exprStmt) stmtNode()     {}
func (*assignStmt) stmtNode()   {}
func (*ifStmt) stmtNode()       {}
func (*whileStmt) stmtNode()    {}
func (*forStmt) stmtNode()      {}
func (*defStmt) stmtNode()      {}
func (*returnStmt) stmtNode()   {}
func (*breakStmt) stmtNode()    {}
func (*continueStmt) stmtNode() {}
func (*passStmt) stmtNode()     {}
func (*importStmt) stmtNode()   {}
func (*delStmt) stmtNode()      {}

// Expression nodes.

type expr interface{ exprNode() }

type nameExpr struct {
	Name string
	Line int
}

type literalExpr struct {
	Value Value
	Line  int
}

type listExpr struct {
	Elems []expr
	Line  int
}

type dictExpr struct {
	Keys   []expr
	Values []expr
	Line   int
}

type tupleExpr struct {
	Elems []expr
	Line  int
}

type binaryExpr struct {
	Op    string
	Left  expr
	Right expr
	Line  int
}

type unaryExpr struct {
	Op      string // "-", "not"
	Operand expr
	Line    int
}

// compareExpr chains comparisons: a < b <= c.
type compareExpr struct {
	First expr
	Ops   []string
	Rest  []expr
	Line  int
}

type boolExpr struct {
	Op    string // "and", "or"
	Left  expr
	Right expr
	Line  int
}

type callExpr struct {
	Fn     expr
	Args   []expr
	Kwargs map[string]expr
	Line   int
}

type indexExpr struct {
	Obj   expr
	Index expr
	Line  int
}

type sliceExpr struct {
	Obj   expr
	Start expr // nil for open ends
	Stop  expr
	Line  int
}

type attrExpr struct {
	Obj  expr
	Name string
	Line int
}

// condExpr is the ternary: a if cond else b.
type condExpr struct {
	Cond expr
	Then expr
	Else expr
	Line int
}

// compExpr is a list comprehension: [out for v in iter if cond].
type compExpr struct {
	Out  expr
	Vars []string
	Iter expr
	Cond expr // nil when absent
	Line int
}

func (*nameExpr) exprNode()    {}
func (*literalExpr) exprNode() {}
func (*listExpr) exprNode()    {}
func (*dictExpr) exprNode()    {}
func (*tupleExpr) exprNode()   {}
func (*binaryExpr) exprNode()  {}
func (*unaryExpr) exprNode()   {}
func (*compareExpr) exprNode() {}
func (*boolExpr) exprNode()    {}
func (*callExpr) exprNode()    {}
func (*indexExpr) exprNode()   {}
func (*sliceExpr) exprNode()   {}
func (*attrExpr) exprNode()    {}
func (*condExpr) exprNode()    {}
func (*compExpr) exprNode()    {}
