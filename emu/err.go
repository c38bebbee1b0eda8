package emu

import (
	"errors"

	"github.com/hyp16dev/toolchain/isa"
	"github.com/hyp16dev/toolchain/translate"
)

var f = translate.From

var (
	ErrSegmentOverlap   = errors.New(f("program segment overlaps with memory reserved for registers"))
	ErrDivideByZero     = errors.New(f("division by zero"))
	ErrStoreToImmediate = errors.New(f("cannot store to an immediate operand"))
	ErrDecode           = errors.New(f("instruction could not be decoded"))
)

// ErrBadRegister names a register field that decoded outside the
// r0-r7/psw range.
type ErrBadRegister int

func (err ErrBadRegister) Error() string {
	return f("%v is not a valid register", isa.RegisterName(int(err)))
}

// ErrRuntime locates a fatal runtime error at the program counter it
// was raised from.
type ErrRuntime struct {
	PC  uint16
	Err error
}

func (err ErrRuntime) Error() string {
	return f("pc=0x%04x: %v", err.PC, err.Err)
}

func (err ErrRuntime) Unwrap() error {
	return err.Err
}
