package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// StepStatus represents the current state of a step
type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepComplete
	StepFailed
)

// Step is one phase of a multi-step operation
type Step struct {
	Name    string
	Status  StepStatus
	Message string // e.g., "chunk 12/40"
}

// Upgrade steps
const (
	StepNegotiate = iota
	StepTransfer
	StepCommit
)

// Upgrade progress thresholds reported by the firmware upgrader
const (
	negotiatedPercent = 10
	completePercent   = 100
)

// Progress renders a firmware upgrade as a bar plus its three steps
type Progress struct {
	Steps   []Step
	Percent int // 0-100
	Chunks  int // Total chunks, for the transfer note
	Width   int
	bar     progress.Model
}

// NewProgress creates an upgrade progress display for an image of chunks
// chunks
func NewProgress(chunks int) *Progress {
	p := &Progress{
		Steps: []Step{
			{Name: "Negotiate upgrade"},
			{Name: "Transfer image"},
			{Name: "Verify and commit"},
		},
		Chunks: chunks,
	}
	p.SetWidth(GetTerminalWidth())
	p.Steps[StepNegotiate].Status = StepRunning
	return p
}

// SetWidth sizes the bar to the terminal
func (p *Progress) SetWidth(width int) *Progress {
	p.Width = width
	barWidth := width - 20 // Leave room for the percentage
	if barWidth < 20 {
		barWidth = 20
	}
	if barWidth > 50 {
		barWidth = 50
	}
	p.bar = progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(barWidth),
	)
	return p
}

// SetPercent moves the display to percent and advances the steps to match
func (p *Progress) SetPercent(percent int) {
	if percent < p.Percent {
		return
	}
	p.Percent = percent

	switch {
	case percent >= completePercent:
		for i := range p.Steps {
			p.Steps[i].Status = StepComplete
		}
		p.Steps[StepTransfer].Message = p.chunkNote(p.Chunks)
	case percent >= negotiatedPercent:
		p.Steps[StepNegotiate].Status = StepComplete
		p.Steps[StepTransfer].Status = StepRunning
		p.Steps[StepTransfer].Message = p.chunkNote(p.chunksDone())
	}
}

// Fail marks the running step as failed
func (p *Progress) Fail(message string) {
	for i := range p.Steps {
		if p.Steps[i].Status == StepRunning {
			p.Steps[i].Status = StepFailed
			p.Steps[i].Message = message
			return
		}
	}
}

// chunksDone inverts the transfer mapping 10 + 90*done/total
func (p *Progress) chunksDone() int {
	if p.Chunks == 0 {
		return 0
	}
	done := (p.Percent - negotiatedPercent) * p.Chunks / 90
	if done > p.Chunks {
		done = p.Chunks
	}
	return done
}

func (p *Progress) chunkNote(done int) string {
	if p.Chunks == 0 {
		return ""
	}
	return fmt.Sprintf("chunk %d/%d", done, p.Chunks)
}

// Render returns the bar and step list
func (p *Progress) Render() string {
	var b strings.Builder
	bar := p.bar.ViewAs(float64(p.Percent) / 100)
	b.WriteString(lipgloss.NewStyle().PaddingLeft(2).Render(fmt.Sprintf("%s  %3d%%", bar, p.Percent)))
	b.WriteString("\n\n")
	for i, step := range p.Steps {
		b.WriteString(p.renderStepLine(i, step))
		b.WriteString("\n")
	}
	return b.String()
}

func (p *Progress) renderStepLine(index int, step Step) string {
	var (
		marker string
		style  lipgloss.Style
	)
	switch step.Status {
	case StepComplete:
		marker, style = StepMarkerComplete, StepCompleteStyle
	case StepRunning:
		marker, style = StepMarkerRunning, StepRunningStyle
	case StepFailed:
		marker, style = FailureMarker, ErrorTitleStyle
	default:
		marker, style = StepMarkerPending, StepPendingStyle
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("  [%d/%d] ", index+1, len(p.Steps)))
	b.WriteString(style.Render(step.Name))

	padding := 30 - lipgloss.Width(step.Name)
	if padding < 1 {
		padding = 1
	}
	b.WriteString(strings.Repeat(" ", padding))
	b.WriteString(style.Render(marker))

	if step.Message != "" {
		b.WriteString("  ")
		b.WriteString(StepNoteStyle.Render("(" + step.Message + ")"))
	}
	return b.String()
}

// String implements fmt.Stringer
func (p *Progress) String() string {
	return p.Render()
}
