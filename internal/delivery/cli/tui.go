package cli

import (
	"context"
	"fmt"
	"strings"

	"taskstream/internal/domain/frame"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type chatState int

const (
	stateIdle chatState = iota
	stateStreaming
	stateStopping
)

func (s chatState) String() string {
	switch s {
	case stateStreaming:
		return "streaming"
	case stateStopping:
		return "stopping"
	default:
		return "ready"
	}
}

type frameMsg struct{ frame frame.Frame }

type streamDoneMsg struct {
	result Result
	err    error
}

type stopSentMsg struct{ err error }

var (
	tuiHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Background(lipgloss.Color("235")).Padding(0, 1)
	tuiUserStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	tuiInfoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	tuiErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	tuiFooterStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Padding(0, 1)
)

// ChatModel is the full-screen chat client.
type ChatModel struct {
	ctx      context.Context
	client   *Client
	threadID string
	printer  *Printer

	viewport viewport.Model
	textarea textarea.Model
	width    int
	ready    bool

	state   chatState
	events  chan tea.Msg
	history []string
	current string
	notices []string
}

// NewChatModel returns a model bound to client.
func NewChatModel(ctx context.Context, client *Client, threadID string) ChatModel {
	ta := textarea.New()
	ta.Placeholder = "Ask something... (Enter to send, Ctrl-C to stop or quit)"
	ta.Prompt = "┃ "
	ta.CharLimit = 10000
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.Focus()

	return ChatModel{
		ctx:      ctx,
		client:   client,
		threadID: threadID,
		printer:  NewPrinter(nil, true, 80),
		viewport: viewport.New(80, 20),
		textarea: ta,
	}
}

func (m ChatModel) Init() tea.Cmd {
	return textarea.Blink
}

func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width - 2
		m.viewport.Height = msg.Height - 8
		m.textarea.SetWidth(msg.Width - 2)
		m.printer.width = m.viewport.Width
		m.printer.renderer = nil
		m.ready = true
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			switch m.state {
			case stateStreaming:
				m.state = stateStopping
				return m, m.stop()
			case stateStopping:
				return m, nil
			default:
				return m, tea.Quit
			}
		case tea.KeyEnter:
			if msg.Alt {
				break
			}
			query := strings.TrimSpace(m.textarea.Value())
			if query == "" || m.state != stateIdle {
				return m, nil
			}
			m.textarea.Reset()
			m.history = append(m.history, tuiUserStyle.Render("> "+query))
			m.current = ""
			m.notices = nil
			m.state = stateStreaming
			m.refresh()
			return m, m.start(query)
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case frameMsg:
		switch msg.frame.MessageType {
		case frame.MessageContinue:
			m.current += msg.frame.Content
		case frame.MessageInfo:
			m.notices = append(m.notices, tuiInfoStyle.Render(strings.TrimSpace(msg.frame.Content)))
		case frame.MessageError:
			m.notices = append(m.notices, tuiErrorStyle.Render(msg.frame.Content))
		}
		m.refresh()
		return m, waitForEvent(m.events)

	case streamDoneMsg:
		answer := m.current
		if strings.TrimSpace(answer) != "" {
			m.history = append(m.history, m.printer.Markdown(answer))
		}
		m.history = append(m.history, m.notices...)
		if msg.err != nil {
			m.history = append(m.history, tuiErrorStyle.Render("error: "+msg.err.Error()))
		}
		m.current = ""
		m.notices = nil
		m.events = nil
		m.state = stateIdle
		m.refresh()
		return m, nil

	case stopSentMsg:
		if msg.err != nil {
			m.notices = append(m.notices, tuiErrorStyle.Render("stop failed: "+msg.err.Error()))
			m.refresh()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m ChatModel) View() string {
	if !m.ready {
		return "Initializing..."
	}
	header := fmt.Sprintf("taskstream | %s | %s", m.client.BaseURL, m.state)
	if m.threadID != "" {
		header += " | " + m.threadID
	}
	footer := "Enter send · Ctrl-C stop/quit · PgUp/PgDn scroll"
	return lipgloss.JoinVertical(lipgloss.Left,
		tuiHeaderStyle.Width(m.width).Render(header),
		m.viewport.View(),
		m.textarea.View(),
		tuiFooterStyle.Render(footer),
	)
}

func (m *ChatModel) refresh() {
	parts := append([]string{}, m.history...)
	if m.state != stateIdle {
		parts = append(parts, m.current+" ▊")
		parts = append(parts, m.notices...)
	}
	m.viewport.SetContent(strings.Join(parts, "\n\n"))
	m.viewport.GotoBottom()
}

// start streams query in the background. Frames and the final result come
// back as messages through m.events.
func (m *ChatModel) start(query string) tea.Cmd {
	events := make(chan tea.Msg, 16)
	m.events = events
	client, ctx := m.client, m.ctx
	req := ChatRequest{Query: query, ThreadID: m.threadID}
	go func() {
		defer close(events)
		result, err := client.Stream(ctx, req, func(f frame.Frame) {
			events <- frameMsg{frame: f}
		})
		events <- streamDoneMsg{result: result, err: err}
	}()
	return waitForEvent(events)
}

func (m *ChatModel) stop() tea.Cmd {
	client, ctx := m.client, m.ctx
	return func() tea.Msg {
		_, err := client.Stop(ctx)
		return stopSentMsg{err: err}
	}
}

func waitForEvent(events <-chan tea.Msg) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return nil
		}
		return msg
	}
}

// RunTUI runs the full-screen chat client until the user quits.
func RunTUI(ctx context.Context, client *Client, threadID string) error {
	program := tea.NewProgram(NewChatModel(ctx, client, threadID), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
