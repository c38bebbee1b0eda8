package link

import (
	"github.com/hyp16dev/toolchain/translate"
)

var f = translate.From

// ErrMultipleDefinitions names a non-extern symbol defined in more
// than one input module.
type ErrMultipleDefinitions string

func (err ErrMultipleDefinitions) Error() string {
	return f("Multiple definitions of %v symbol.", string(err))
}

// ErrUnresolvedDefinition names a global or extern reference that no
// input module ever defines.
type ErrUnresolvedDefinition string

func (err ErrUnresolvedDefinition) Error() string {
	return f("unresolved definition of %v symbol", string(err))
}

// ErrSectionOverlap names a section whose assigned address range
// would intersect the memory-mapped register window.
type ErrSectionOverlap string

func (err ErrSectionOverlap) Error() string {
	return f("section %v overlaps with memory reserved for registers", string(err))
}

// ErrInFile locates a linker error at the input module it came from.
type ErrInFile struct {
	File string
	Err  error
}

func (err ErrInFile) Error() string {
	return f("%v: %v", err.File, err.Err)
}

func (err ErrInFile) Unwrap() error {
	return err.Err
}
