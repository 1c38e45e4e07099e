package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/rollno10/crossContractObfuscation/internal/model"
)

// pageSize is the number of diagnostics visible at once.
const pageSize = 15

type modelT struct {
	res       *model.ObfuscationResult
	diags     []model.Diagnostic
	cursor    int
	offset    int
	minSev    model.Severity
	showStage bool
}

func initialModel(res *model.ObfuscationResult) modelT {
	m := modelT{res: res, minSev: model.SeverityInfo}
	m.refilter()
	return m
}

func (m *modelT) refilter() {
	var diags []model.Diagnostic
	for _, d := range m.res.Diagnostics {
		if model.SeverityGTE(d.Severity, m.minSev) {
			diags = append(diags, d)
		}
	}
	m.diags = diags
	if m.cursor >= len(m.diags) {
		m.cursor = len(m.diags) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	m.clamp()
}

func (m *modelT) clamp() {
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+pageSize {
		m.offset = m.cursor - pageSize + 1
	}
}

func (m modelT) Init() tea.Cmd { return nil }

func (m modelT) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "q", "esc", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.diags)-1 {
			m.cursor++
		}
	case "s":
		m.showStage = !m.showStage
		return m, nil
	case "w":
		// cycle the severity floor info -> warning -> error
		switch m.minSev {
		case model.SeverityInfo:
			m.minSev = model.SeverityWarning
		case model.SeverityWarning:
			m.minSev = model.SeverityError
		default:
			m.minSev = model.SeverityInfo
		}
		m.refilter()
		return m, nil
	}
	m.clamp()
	return m, nil
}

func (m modelT) View() string {
	var b strings.Builder
	if m.showStage {
		fmt.Fprintf(&b, "Stages (%d)\n\n", len(m.res.Stages))
		for _, s := range m.res.Stages {
			fmt.Fprintf(&b, "  %-18s units=%d changed=%d failed=%d\n", s.Stage, s.Units, s.Changed, s.Failed)
		}
		fmt.Fprintf(&b, "\nselectors=%d output=%s\n\n[s] diagnostics  [q] quit\n", m.res.Selectors, m.res.OutputDir)
		return b.String()
	}
	fmt.Fprintf(&b, "Diagnostics (%d, >= %s)\n\n", len(m.diags), m.minSev)
	end := m.offset + pageSize
	if end > len(m.diags) {
		end = len(m.diags)
	}
	for i := m.offset; i < end; i++ {
		d := m.diags[i]
		cursor := " "
		if i == m.cursor {
			cursor = ">"
		}
		fmt.Fprintf(&b, "%s [%s] %s %s:%d %s: %s\n", cursor, d.Severity, d.Stage, d.Unit, d.Line, d.Class, d.Message)
	}
	b.WriteString("\n[j/k] move  [w] severity  [s] stages  [q] quit\n")
	return b.String()
}

// Run launches the interactive diagnostics viewer for an obfuscation run.
func Run(res *model.ObfuscationResult) error {
	p := tea.NewProgram(initialModel(res))
	_, err := p.Run()
	return err
}
