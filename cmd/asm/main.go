package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/hyp16dev/toolchain/asm"
	"github.com/hyp16dev/toolchain/obj"
)

func main() {
	var output string
	var verbose bool

	flag.StringVar(&output, "o", "", "Object output path")
	flag.BoolVar(&verbose, "v", false, "Verbose mode")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stdout, "%v: expected exactly one input file\n", os.Args[0])
		os.Exit(-1)
	}
	input := flag.Arg(0)

	if output == "" {
		output = strings.TrimSuffix(input, ".s") + ".o"
	}

	inf, err := os.Open(input)
	if err != nil {
		fmt.Fprintf(os.Stdout, "%v: %v\n", input, err)
		os.Exit(-1)
	}
	defer inf.Close()

	a := asm.NewAssembler()
	a.Verbose = verbose
	o, err := a.Assemble(inf)
	if err != nil {
		fmt.Fprintln(os.Stdout, err)
		os.Exit(-1)
	}

	ouf, err := os.Create(output)
	if err != nil {
		fmt.Fprintf(os.Stdout, "%v: %v\n", output, err)
		os.Exit(-1)
	}
	defer ouf.Close()

	if err := obj.Encode(ouf, o); err != nil {
		fmt.Fprintf(os.Stdout, "%v: %v\n", output, err)
		os.Exit(-1)
	}

	textPath := stem(output) + "_text.o"
	textf, err := os.Create(textPath)
	if err != nil {
		fmt.Fprintf(os.Stdout, "%v: %v\n", textPath, err)
		os.Exit(-1)
	}
	defer textf.Close()

	if err := obj.WriteText(textf, o); err != nil {
		fmt.Fprintf(os.Stdout, "%v: %v\n", textPath, err)
		os.Exit(-1)
	}
}

func stem(path string) string {
	return strings.TrimSuffix(path, ".o")
}
