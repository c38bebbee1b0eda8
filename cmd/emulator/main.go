package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/hyp16dev/toolchain/emu"
	"github.com/hyp16dev/toolchain/image"
	"github.com/hyp16dev/toolchain/isa"
)

func main() {
	var verbose bool
	flag.BoolVar(&verbose, "v", false, "Verbose mode")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stdout, "%v: expected exactly one input image\n", os.Args[0])
		os.Exit(-1)
	}
	input := flag.Arg(0)

	inf, err := os.Open(input)
	if err != nil {
		fmt.Fprintf(os.Stdout, "%v: %v\n", input, err)
		os.Exit(-1)
	}
	defer inf.Close()

	img, err := image.Decode(inf)
	if err != nil {
		fmt.Fprintf(os.Stdout, "%v: %v\n", input, err)
		os.Exit(-1)
	}

	e := emu.NewEmulator()
	e.Verbose = verbose
	if err := e.Boot(img); err != nil {
		fmt.Fprintln(os.Stdout, err)
		os.Exit(-1)
	}

	if err := e.Run(); err != nil {
		fmt.Fprintln(os.Stdout, err)
		os.Exit(-1)
	}

	if err := e.WriteState(os.Stdout); err != nil {
		fmt.Fprintln(os.Stdout, err)
		os.Exit(-1)
	}

	dumpPath := "emulator_out_memory_sample.hex"
	dumpf, err := os.Create(dumpPath)
	if err != nil {
		fmt.Fprintf(os.Stdout, "%v: %v\n", dumpPath, err)
		os.Exit(-1)
	}
	defer dumpf.Close()

	if err := e.WriteMemorySample(dumpf, 0, isa.MemSize); err != nil {
		fmt.Fprintf(os.Stdout, "%v: %v\n", dumpPath, err)
		os.Exit(-1)
	}
}
