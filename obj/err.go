package obj

import (
	"github.com/hyp16dev/toolchain/translate"
)

var f = translate.From

// ErrRelocType indicates an unrecognized relocation type tag was read
// from an object file.
type ErrRelocType string

func (e ErrRelocType) Error() string {
	return f("relocation type %q is not recognized", string(e))
}
