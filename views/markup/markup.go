// Package markup writes escaped HTML for the view components.
package markup

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// Writer writes HTML and keeps the first error.
type Writer struct {
	w   io.Writer
	err error
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Raw writes s unescaped.
func (m *Writer) Raw(parts ...string) {
	for _, s := range parts {
		if m.err != nil {
			return
		}
		_, m.err = io.WriteString(m.w, s)
	}
}

// Text writes s escaped for element content and attribute values.
func (m *Writer) Text(s string) {
	m.Raw(templ.EscapeString(s))
}

// Component renders c in place.
func (m *Writer) Component(ctx context.Context, c templ.Component) {
	if m.err != nil {
		return
	}
	m.err = c.Render(ctx, m.w)
}

// Err is the first write error.
func (m *Writer) Err() error {
	return m.err
}
