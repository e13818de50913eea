// Package vm implements the stack-oriented bytecode machine: the opcode
// set, the Linkable fragment/linker, codegen from the AST, the merged
// Program, and the cooperative Runtime interpreter.
package vm

import "github.com/retrobasic/basic64k/internal/value"

// Code is the stack-VM instruction opcode.
type Code int

const (
	OpPush  Code = iota // push scalar by Name
	OpPop               // pop into scalar Name
	OpPushArr           // pop Count indices, push array element
	OpPopArr            // pop Count indices then value, store
	OpDimArr            // unused: codegen emits OpDimStmt for DIM, and the runtime has no case for this code

	OpLit // push a literal Val

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpDivInt
	OpMod
	OpPow
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpXor
	OpImp
	OpEqv
	OpNeg
	OpNot

	OpJump  // unconditional jump to Addr
	OpIfNot // pop bool; jump to Addr if false
	OpOn    // pop selector then count; skip into the jump table that follows

	OpNext // NEXT v / bare NEXT: pop FOR frame, loop or fall through
	OpReturn

	OpPrint // pop one value, print it
	OpTab   // pop one value, print it, then pad to the next 14-column zone
	OpNewline

	OpInputBegin // Val holds the prompt literal, Count the CAPS flag (0/1)
	OpInput      // read one token into Name (Count indices already pushed, for array targets)
	OpInputEnd   // close the statement; unread trailing fields mean ?REDO FROM START

	OpDef // establish a DEF FN entry point; Name is the function name

	OpBuiltin // call builtin Name with Count args already on the stack
	OpCallFn  // call user DEF FN Name with Count args

	OpEnd
	OpStop
	OpCls
	OpCont
	OpNewStmt
	OpRunLine   // RUN <line> / bare RUN: Count 1 means Addr holds the line number, resolved when executed
	OpLoadRun   // RUN "file"
	OpListStmt  // Addr/Count hold optional from/to line
	OpDeleteStmt
	OpLoadStmt
	OpSaveStmt
	OpRenum
	OpClear
	OpTron
	OpTroff
	OpRestore  // RESTORE [line]
	OpReadStmt // push the next DATA value, advancing the data pointer
	OpDataMark // marks a DATA literal's position in the opcode stream
	OpLetMid
	OpEraseStmt
	OpDimStmt

	OpDefint // DEFINT Name[0]..Name[1]: rewrite the DEF-type table
	OpDefsng
	OpDefdbl
	OpDefstr
)

// Instruction is one bytecode opcode plus whichever operand fields it
// uses; unused fields are zero. Name carries variable/function names,
// Addr carries a resolved (post-link) address, Count carries an arity or
// array-rank count, Val carries an OpLit literal or an OpDataMark value.
type Instruction struct {
	Code  Code
	Name  string
	Val   value.Val
	Addr  int
	Count int
	// Kind/HasSigil describe a Push/Pop/Arr op's variable: when HasSigil is
	// true the sigil fixes Kind at compile time; otherwise the runtime
	// resolves it against the DEF-type table by Name's first letter, since
	// DEFINT/SNG/DBL/STR can change that table between compiles.
	Kind     value.Kind
	HasSigil bool
	Line     uint16 // source line this instruction was generated from
	Col      int    // source column; runtime errors are reported without it
}
