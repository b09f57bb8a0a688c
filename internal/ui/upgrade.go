package ui

import (
	"context"
	"errors"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
)

// ProgressMsg reports upgrade progress in percent
type ProgressMsg int

// DoneMsg ends the upgrade program
type DoneMsg struct {
	Err error
}

// UpgradeFunc performs an upgrade, reporting progress as it goes
type UpgradeFunc func(ctx context.Context, onProgress func(percent int)) error

// UpgradeModel is the Bubble Tea model for a running firmware upgrade
type UpgradeModel struct {
	progress   *Progress
	cancel     func()
	cancelling bool
	done       bool
	err        error
}

// NewUpgradeModel creates the model; cancel is called when the user quits
func NewUpgradeModel(chunks int, cancel func()) UpgradeModel {
	return UpgradeModel{progress: NewProgress(chunks), cancel: cancel}
}

// Init implements tea.Model
func (m UpgradeModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m UpgradeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ProgressMsg:
		m.progress.SetPercent(int(msg))

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		if msg.Err != nil {
			m.progress.Fail("failed")
		}
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			// The upgrade reports DoneMsg once it has stopped.
			if !m.cancelling && m.cancel != nil {
				m.cancelling = true
				m.cancel()
			}
		}

	case tea.WindowSizeMsg:
		m.progress.SetWidth(clampWidth(msg.Width, nil))
	}
	return m, nil
}

// View implements tea.Model
func (m UpgradeModel) View() string {
	view := m.progress.Render()
	switch {
	case m.done:
	case m.cancelling:
		view += "\n" + WarningTitleStyle.Render("  Cancelling...") + "\n"
	default:
		view += "\n" + StepPendingStyle.Render("  Keep the tracker in range. Press q to cancel.") + "\n"
	}
	return view
}

// Err returns the upgrade result once the program has quit
func (m UpgradeModel) Err() error {
	return m.err
}

// Percent returns the last progress shown
func (m UpgradeModel) Percent() int {
	return m.progress.Percent
}

// RunUpgrade runs op while showing its progress. On a terminal it drives a
// Bubble Tea program; otherwise it prints a line per progress update.
func RunUpgrade(ctx context.Context, out io.Writer, chunks int, op UpgradeFunc) error {
	if !IsTerminal() {
		return runPlain(ctx, out, op)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewUpgradeModel(chunks, cancel), tea.WithOutput(out))
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		err := op(ctx, func(percent int) { p.Send(ProgressMsg(percent)) })
		p.Send(DoneMsg{Err: err})
	}()

	final, err := p.Run()
	if err != nil {
		cancel()
		<-finished
		return fmt.Errorf("progress display failed: %w", err)
	}
	<-finished
	m, ok := final.(UpgradeModel)
	if !ok {
		return errors.New("unexpected progress model")
	}
	return m.Err()
}

func runPlain(ctx context.Context, out io.Writer, op UpgradeFunc) error {
	return op(ctx, func(percent int) {
		_, _ = fmt.Fprintf(out, "upgrade progress: %3d%%\n", percent)
	})
}
