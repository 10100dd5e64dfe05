// Package diag renders errors as file-anchored compiler diagnostics.
package diag

import (
	"errors"
	"fmt"
	"go/token"
	"io"

	"github.com/fatih/color"
)

// Diagnostic is an error anchored in source.
type Diagnostic interface {
	error
	Position() token.Position
	Code() string
}

// Note is a secondary location of a diagnostic.
type Note struct {
	Pos     token.Position
	Message string
}

// Entry is one rendered diagnostic.
type Entry struct {
	Pos     token.Position
	Code    string
	Message string
	Notes   []Note
}

// Collect flattens err into entries, one per joined error. Diagnostics
// wrapped inside an entry's chain with another position become notes.
func Collect(err error) []Entry {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []Entry
		for _, e := range joined.Unwrap() {
			out = append(out, Collect(e)...)
		}
		return out
	}

	e := Entry{Code: "error", Message: err.Error()}
	var d Diagnostic
	if errors.As(err, &d) {
		e.Pos = d.Position()
		e.Code = d.Code()
	}
	for cur := errors.Unwrap(err); cur != nil; cur = errors.Unwrap(cur) {
		inner, ok := cur.(Diagnostic)
		if !ok {
			continue
		}
		pos := inner.Position()
		if !pos.IsValid() || pos == e.Pos {
			continue
		}
		e.Notes = append(e.Notes, Note{Pos: pos, Message: inner.Error()})
	}
	return []Entry{e}
}

// Printer writes entries in the form "file:line:col: error[code]: message".
type Printer struct {
	w    io.Writer
	loc  *color.Color
	err  *color.Color
	note *color.Color
}

// NewPrinter returns a printer writing to w, coloured when useColor is set.
func NewPrinter(w io.Writer, useColor bool) *Printer {
	p := &Printer{
		w:    w,
		loc:  color.New(color.Bold),
		err:  color.New(color.FgRed, color.Bold),
		note: color.New(color.FgCyan),
	}
	for _, c := range []*color.Color{p.loc, p.err, p.note} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Print writes e.
func (p *Printer) Print(e Entry) {
	fmt.Fprintf(p.w, "%s%s %s\n", p.loc.Sprint(location(e.Pos)), p.err.Sprintf("error[%s]:", e.Code), e.Message)
	for _, n := range e.Notes {
		fmt.Fprintf(p.w, "  %s %s%s\n", p.note.Sprint("note:"), location(n.Pos), n.Message)
	}
}

// Fprint writes every entry of err to w and returns their number.
func Fprint(w io.Writer, err error, useColor bool) int {
	entries := Collect(err)
	p := NewPrinter(w, useColor)
	for _, e := range entries {
		p.Print(e)
	}
	return len(entries)
}

func location(pos token.Position) string {
	if !pos.IsValid() {
		if pos.Filename != "" {
			return pos.Filename + ": "
		}
		return ""
	}
	return pos.String() + ": "
}
