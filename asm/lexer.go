package asm

import (
	"bufio"
	"io"
	"regexp"
	"strings"
)

var (
	reRuns = regexp.MustCompile(`  +`)
	reComma = regexp.MustCompile(` *, *`)
	reColon = regexp.MustCompile(` *: *`)
)

// normalizedLine is one surviving source line after cleanup, paired
// with the 1-based line number it came from in the original file.
type normalizedLine struct {
	lineNo int
	text   string
}

// normalize reads r and applies the input-normalization steps in
// order: strip trailing comments, expand tabs, collapse runs of
// spaces, trim ends, and tighten spacing around ',' and ':'. Empty
// lines are dropped; the surviving lines keep their original 1-based
// line number for diagnostics.
func normalize(r io.Reader) (lines []normalizedLine, err error) {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.ReplaceAll(line, "\t", " ")
		line = reRuns.ReplaceAllString(line, " ")
		line = strings.TrimSpace(line)
		line = reComma.ReplaceAllString(line, ",")
		line = reColon.ReplaceAllString(line, ":")

		if line == "" {
			continue
		}
		lines = append(lines, normalizedLine{lineNo: lineNo, text: line})
	}
	if err = scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
