package link

import (
	"fmt"
	"io"

	"github.com/hyp16dev/toolchain/image"
)

// WriteHex renders img as a human-readable hex dump: each segment's
// bytes in rows of 8, each row prefixed with its absolute address.
func WriteHex(w io.Writer, img *image.Image) error {
	for _, seg := range img.Segments {
		for row := 0; row < len(seg.Data); row += 8 {
			end := row + 8
			if end > len(seg.Data) {
				end = len(seg.Data)
			}
			if _, err := fmt.Fprintf(w, "%04X: ", seg.BaseAddress+uint32(row)); err != nil {
				return err
			}
			for i, b := range seg.Data[row:end] {
				if i > 0 {
					if _, err := io.WriteString(w, " "); err != nil {
						return err
					}
				}
				if _, err := fmt.Fprintf(w, "%02X", b); err != nil {
					return err
				}
			}
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
	}
	return nil
}
