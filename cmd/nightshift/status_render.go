package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 22
	statusIndent     = "  "
)

var statusLabels = map[statusKind]string{
	statusInfo:  "INFO",
	statusOK:    "OK",
	statusWarn:  "WARN",
	statusError: "ERROR",
}

var statusColors = map[statusKind]string{
	statusInfo:  ansiBlue,
	statusOK:    ansiGreen,
	statusWarn:  ansiYellow,
	statusError: ansiRed,
}

// printer writes the sectioned status layout, colouring only terminals.
type printer struct {
	w        io.Writer
	colorize bool
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, colorize: shouldColorize(w)}
}

func (p *printer) section(title string) {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if p.colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	fmt.Fprintln(p.w, line)
	fmt.Fprintln(p.w, rule)
}

func (p *printer) status(label string, kind statusKind, message string) {
	fmt.Fprintln(p.w, renderStatusLine(label, kind, message, p.colorize))
}

func (p *printer) blank() {
	fmt.Fprintln(p.w)
}

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusLabels[kind])
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		return statusColors[kind] + base + ansiReset
	}
	return base
}

func passKind(passed bool) statusKind {
	if passed {
		return statusOK
	}
	return statusError
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
