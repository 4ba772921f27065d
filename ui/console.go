// Package ui writes script output and supervisor status to the terminal.
package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/genkiinstruments/ocpwatch/ui/style"
)

const tag = "ocpwatch"

// Console prints script output to out and styled status lines to errOut.
// It implements lua.Host.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
	styles style.Styles
	port   int
}

// NewConsole writes script output to out and status lines to errOut.
func NewConsole(port int, out, errOut io.Writer) *Console {
	return &Console{
		out:    out,
		errOut: errOut,
		styles: style.StylesFor(errOut),
		port:   port,
	}
}

// Print outputs a line of script output.
func (c *Console) Print(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, text)
}

// Port is the viewer port.
func (c *Console) Port() int { return c.port }

func (c *Console) Status(text string)    { c.status(c.styles.Status, text) }
func (c *Console) Reloading(text string) { c.status(c.styles.Reload, text) }
func (c *Console) Muted(text string)     { c.status(c.styles.Muted, text) }
func (c *Console) Warn(text string)      { c.status(c.styles.Warning, text) }
func (c *Console) Error(text string)     { c.status(c.styles.Error, text) }

func (c *Console) status(s lipgloss.Style, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.errOut, "%s %s\n", c.styles.Tag.Render(tag), s.Render(text))
}
