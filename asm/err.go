package asm

import (
	"errors"

	"github.com/hyp16dev/toolchain/translate"
)

var f = translate.From

var (
	ErrNoCurrentSection      = errors.New(f("not specified within a section"))
	ErrSymbolDefined         = errors.New(f("symbol is previously defined"))
	ErrSymbolImported        = errors.New(f("symbol with the same name is already imported"))
	ErrSymbolExternConflict  = errors.New(f("symbol with the same name has an external definition"))
	ErrAddressingUnsupported = errors.New(f("the addressing mode is not supported"))
	ErrCommandUnsupported    = errors.New(f("the assembler command is not supported"))
	ErrUnresolvedSymbol      = errors.New(f("symbol is not in the symbol table"))
)

// ErrParseNumber names a token that looked numeric but could not be
// parsed as a decimal or 0x-prefixed hexadecimal literal.
type ErrParseNumber string

func (err ErrParseNumber) Error() string {
	return f("%q is not a valid number literal", string(err))
}

// ErrSyntax locates an assembler error at the original source line it
// was raised against. Mirrors the line-tagged error wrapper pattern
// used throughout this toolchain's packages.
type ErrSyntax struct {
	LineNo int
	Line   string
	Err    error
}

func (err ErrSyntax) Error() string {
	return f("line %d '%v': %v", err.LineNo, err.Line, err.Err)
}

func (err ErrSyntax) Unwrap() error {
	return err.Err
}
