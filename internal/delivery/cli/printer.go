package cli

import (
	"fmt"
	"io"
	"strings"

	"taskstream/internal/domain/frame"

	markdown "github.com/MichaelMure/go-term-markdown"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
)

var (
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	ruleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Printer writes frames to a terminal as they arrive.
type Printer struct {
	out      io.Writer
	render   bool
	width    int
	renderer *glamour.TermRenderer
}

// NewPrinter returns a printer. With render set, the finished answer is
// printed again as rendered markdown.
func NewPrinter(out io.Writer, render bool, width int) *Printer {
	if width <= 0 {
		width = 80
	}
	return &Printer{out: out, render: render, width: width}
}

// Frame prints one frame. Continue content is written raw so the answer
// appears as it streams.
func (p *Printer) Frame(f frame.Frame) {
	switch f.MessageType {
	case frame.MessageContinue:
		fmt.Fprint(p.out, f.Content)
	case frame.MessageInfo:
		fmt.Fprintln(p.out, yellow(f.Content))
	case frame.MessageError:
		fmt.Fprintln(p.out, red("\n"+f.Content))
	case frame.MessageEnd:
	default:
		fmt.Fprintln(p.out, gray(fmt.Sprintf("[%s] %s", f.MessageType, f.Content)))
	}
}

// Header announces a new query.
func (p *Printer) Header(threadID string) {
	label := "taskstream"
	if threadID != "" {
		label += " · " + threadID
	}
	fmt.Fprintln(p.out, headerStyle.Render(label))
}

// Finish closes the output of one answer.
func (p *Printer) Finish(result Result) {
	fmt.Fprintln(p.out)
	if p.render && result.Failure == "" && strings.TrimSpace(result.Answer) != "" {
		fmt.Fprintln(p.out, ruleStyle.Render(strings.Repeat("─", p.width)))
		fmt.Fprintln(p.out, p.Markdown(result.Answer))
	}
	fmt.Fprintln(p.out, gray(fmt.Sprintf("%d frames", result.Frames)))
}

// Markdown renders content for the terminal with glamour, falling back to
// go-term-markdown when glamour cannot build a renderer.
func (p *Printer) Markdown(content string) string {
	if p.renderer == nil {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(p.width-4),
		)
		if err != nil {
			return plainMarkdown(content, p.width)
		}
		p.renderer = renderer
	}
	rendered, err := p.renderer.Render(content)
	if err != nil {
		return plainMarkdown(content, p.width)
	}
	return strings.TrimSpace(rendered)
}

func plainMarkdown(content string, width int) string {
	return strings.TrimRight(string(markdown.Render(content, width, 2)), "\n")
}

// Errorf prints a client-side failure.
func (p *Printer) Errorf(format string, args ...any) {
	fmt.Fprintln(p.out, red(fmt.Sprintf(format, args...)))
}
