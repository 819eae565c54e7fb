package formatter

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette is a simple stylesheet built with named [lipgloss.Style] fields.
// A plain palette returns text unchanged.
type Palette struct {
	plain bool
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
	}
}

// DefaultPalette is the palette used on terminals.
func DefaultPalette() *Palette {
	return NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")
}

func PlainPalette() *Palette {
	return &Palette{plain: true}
}

// PaletteFor picks the default palette when w is a terminal and a plain one otherwise.
func PaletteFor(w io.Writer) *Palette {
	file, ok := w.(*os.File)
	if !ok {
		return PlainPalette()
	}
	fd := file.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return DefaultPalette()
	}
	return PlainPalette()
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

func orPlain(p *Palette) *Palette {
	if p == nil {
		return PlainPalette()
	}
	return p
}

func (p *Palette) render(s lipgloss.Style, text string) string {
	if p.plain {
		return text
	}
	return s.Render(text)
}

func (p *Palette) Title(text string) string { return p.render(p.title, text) }
func (p *Palette) OK(text string) string    { return p.render(p.ok, text) }
func (p *Palette) Err(text string) string   { return p.render(p.err, text) }
func (p *Palette) Warn(text string) string  { return p.render(p.warn, text) }
func (p *Palette) Help(text string) string  { return p.render(p.help, text) }
