package obj

import (
	"fmt"
	"io"
)

// WriteText renders o as a plain-text debug dump of its section,
// symbol, and relocation tables, in the same id/insertion order the
// binary codec preserves.
func WriteText(w io.Writer, o *Object) error {
	if _, err := fmt.Fprintf(w, "sections: %d\n", len(o.Sections)); err != nil {
		return err
	}
	for _, sec := range o.Sections {
		if _, err := fmt.Fprintf(w, "  [%d] %-12s length=%d\n", sec.ID, sec.Name, sec.Length()); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(w, "symbols: %d\n", len(o.Symbols)); err != nil {
		return err
	}
	for _, sym := range o.Symbols {
		if _, err := fmt.Fprintf(w, "  [%d] %-16s section=%-12s offset=%-8d defined=%-5t local=%-5t extern=%t\n",
			sym.ID, sym.Name, sym.Section, sym.Offset, sym.Defined, sym.Local, sym.Extern); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(w, "relocations: %d\n", len(o.Relocations)); err != nil {
		return err
	}
	for _, rel := range o.Relocations {
		if _, err := fmt.Fprintf(w, "  %-12s offset=%-8d type=%-16s symbol=%s\n",
			rel.Section, rel.Offset, rel.Type.String(), rel.Symbol); err != nil {
			return err
		}
	}

	return nil
}
