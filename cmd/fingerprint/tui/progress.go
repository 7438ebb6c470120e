package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/pipeline"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/walker"
)

// ErrInterrupted is returned by Run when the user stops the scan.
var ErrInterrupted = errors.New("scan interrupted")

// ScanFunc performs the scan, reporting progress through the callback.
type ScanFunc func(ctx context.Context, progress func(walker.Stats)) (pipeline.Summary, error)

// ProgressMsg carries walker counters.
type ProgressMsg walker.Stats

// DoneMsg is sent when the scan returns.
type DoneMsg struct {
	Summary pipeline.Summary
	Err     error
}

// Model is the scan progress view.
type Model struct {
	root    string
	scan    ScanFunc
	ctx     context.Context
	cancel  context.CancelFunc
	updates chan walker.Stats

	spinner     spinner.Model
	stats       walker.Stats
	start       time.Time
	width       int
	done        bool
	interrupted bool
	summary     pipeline.Summary
	err         error
}

// NewModel returns a progress view that runs scan over root when started.
func NewModel(ctx context.Context, root string, scan ScanFunc) Model {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)

	ctx, cancel := context.WithCancel(ctx)
	return Model{
		root:    root,
		scan:    scan,
		ctx:     ctx,
		cancel:  cancel,
		updates: make(chan walker.Stats, 100),
		spinner: s,
		start:   time.Now(),
		width:   80,
	}
}

// Init starts the spinner and the scan.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startScan(), m.listen())
}

func (m Model) startScan() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		summary, err := m.scan(m.ctx, func(s walker.Stats) {
			select {
			case updates <- s:
			default:
				// Channel full, skip this update
			}
		})
		close(updates)
		return DoneMsg{Summary: summary, Err: err}
	}
}

// listen waits for the next progress update.
func (m Model) listen() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		s, ok := <-updates
		if !ok {
			return nil
		}
		return ProgressMsg(s)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.interrupted = true
			m.cancel()
		}
		return m, nil

	case ProgressMsg:
		m.stats = walker.Stats(msg)
		return m, m.listen()

	case DoneMsg:
		m.done = true
		m.summary = msg.Summary
		m.err = msg.Err
		m.cancel()
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the progress view.
func (m Model) View() string {
	width := m.width - 4
	if width < 40 {
		width = 40
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("fingerprint"))
	b.WriteString("  ")
	b.WriteString(mutedTextStyle.Render(m.root))
	b.WriteString("\n")
	b.WriteString(dividerStyle.Render(strings.Repeat("─", width)))
	b.WriteString("\n")

	switch {
	case m.done && m.err != nil:
		b.WriteString(errorTextStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	case m.done:
		b.WriteString(successTextStyle.Render("Scan complete"))
	case m.interrupted:
		b.WriteString(mutedTextStyle.Render("Stopping..."))
	default:
		b.WriteString(fmt.Sprintf("%s %s", m.spinner.View(), truncatePath(m.stats.Path, width-4)))
	}
	b.WriteString("\n\n")

	b.WriteString(stat("Dirs", humanize.Comma(m.stats.Dirs)))
	b.WriteString(stat("Files", humanize.Comma(m.stats.Files)))
	b.WriteString(stat("Symlinks", humanize.Comma(m.stats.Symlinks)))
	b.WriteString(stat("Bytes", humanize.IBytes(uint64(m.stats.Bytes))))
	b.WriteString(stat("Hashed", humanize.Comma(m.stats.Hashed)))
	if m.stats.CatalogHits > 0 {
		b.WriteString(stat("Catalog", humanize.Comma(m.stats.CatalogHits)))
	}
	if m.stats.Unreadable > 0 {
		b.WriteString(stat("Unreadable", humanize.Comma(m.stats.Unreadable)))
	}
	b.WriteString(stat("Elapsed", time.Since(m.start).Round(time.Second).String()))
	b.WriteString(mutedTextStyle.Render("[q to stop]"))

	return outerBoxStyle.Width(width + 2).Render(b.String())
}

func stat(label, value string) string {
	return statLabelStyle.Render(label) + statValueStyle.Render(value) + "\n"
}

// truncatePath keeps the tail of p within width.
func truncatePath(p string, width int) string {
	if width <= 3 || len(p) <= width {
		return p
	}
	return "..." + p[len(p)-width+3:]
}

// Run shows the progress view while scan runs over root.
func Run(ctx context.Context, root string, scan ScanFunc) (pipeline.Summary, error) {
	final, err := tea.NewProgram(NewModel(ctx, root, scan), tea.WithContext(ctx)).Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return nil, fmt.Errorf("progress view: %w", err)
	}
	m, ok := final.(Model)
	if !ok {
		return nil, ErrInterrupted
	}
	if m.err != nil {
		if m.interrupted && errors.Is(m.err, context.Canceled) {
			return nil, ErrInterrupted
		}
		return nil, m.err
	}
	if !m.done {
		return nil, ErrInterrupted
	}
	return m.summary, nil
}
