package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/hyp16dev/toolchain/image"
	"github.com/hyp16dev/toolchain/link"
	"github.com/hyp16dev/toolchain/obj"
)

func main() {
	var output string
	var hex bool
	var relocatable bool
	var place string
	var verbose bool

	flag.StringVar(&output, "o", "", "Program image output path")
	flag.BoolVar(&hex, "hex", false, "Emit a hex dump alongside the image")
	flag.BoolVar(&relocatable, "relocatable", false, "Unsupported: emit a relinkable object")
	flag.StringVar(&place, "place", "", "Unsupported: place=<section>@<hexaddr>")
	flag.BoolVar(&verbose, "v", false, "Verbose mode")
	flag.Parse()

	if relocatable {
		fmt.Fprintln(os.Stdout, "linker: -relocatable is not supported")
		os.Exit(-1)
	}
	if place != "" {
		fmt.Fprintln(os.Stdout, "linker: -place=<section>@<hexaddr> is not supported")
		os.Exit(-1)
	}
	if output == "" {
		fmt.Fprintln(os.Stdout, "linker: -o <output> is required")
		os.Exit(-1)
	}
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stdout, "linker: at least one input object is required")
		os.Exit(-1)
	}

	l := link.NewLinker()
	l.Verbose = verbose

	for _, path := range flag.Args() {
		inf, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stdout, "%v: %v\n", path, err)
			os.Exit(-1)
		}

		o, err := obj.Decode(inf)
		inf.Close()
		if err != nil {
			fmt.Fprintf(os.Stdout, "%v: %v\n", path, err)
			os.Exit(-1)
		}

		l.AddModule(path, o)
	}

	img, err := l.Link()
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

	if err := image.Encode(ouf, img); err != nil {
		fmt.Fprintf(os.Stdout, "%v: %v\n", output, err)
		os.Exit(-1)
	}

	if hex {
		hexPath := strings.TrimSuffix(output, ".o") + "_text.hex"
		hexf, err := os.Create(hexPath)
		if err != nil {
			fmt.Fprintf(os.Stdout, "%v: %v\n", hexPath, err)
			os.Exit(-1)
		}
		defer hexf.Close()

		if err := link.WriteHex(hexf, img); err != nil {
			fmt.Fprintf(os.Stdout, "%v: %v\n", hexPath, err)
			os.Exit(-1)
		}
	}
}
