package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/wippyai/dxbc-bridge/dxbc"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	tagStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	sizeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type inspectState int

const (
	stateChunkList inspectState = iota
	stateChunkDetail
)

type inspectModel struct {
	err       error
	filename  string
	container *dxbc.Container
	digestOK  bool

	filter   textinput.Model
	visible  []int
	selected int
	state    inspectState
	scroll   int
	detail   []string
}

func newInspectModel(filename string) *inspectModel {
	filter := textinput.New()
	filter.Placeholder = "filter tags"
	filter.Prompt = "/ "
	filter.Width = 20

	return &inspectModel{
		filename: filename,
		filter:   filter,
		state:    stateChunkList,
	}
}

type containerMsg struct {
	err       error
	container *dxbc.Container
	digestOK  bool
}

func (m *inspectModel) Init() tea.Cmd {
	return m.loadContainer
}

func (m *inspectModel) loadContainer() tea.Msg {
	data, err := os.ReadFile(m.filename)
	if err != nil {
		return containerMsg{err: err}
	}
	c, err := dxbc.Decode(data)
	if err != nil {
		return containerMsg{err: err}
	}
	return containerMsg{container: c, digestOK: c.VerifyDigest()}
}

func (m *inspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.filter.Focused() {
				break
			}
			if m.state == stateChunkDetail {
				m.state = stateChunkList
				return m, nil
			}
			return m, tea.Quit

		case "up", "k":
			if m.state == stateChunkList && !m.filter.Focused() && m.selected > 0 {
				m.selected--
			} else if m.state == stateChunkDetail && m.scroll > 0 {
				m.scroll--
			}

		case "down", "j":
			if m.state == stateChunkList && !m.filter.Focused() && m.selected < len(m.visible)-1 {
				m.selected++
			} else if m.state == stateChunkDetail && m.scroll < len(m.detail)-1 {
				m.scroll++
			}

		case "enter":
			if m.state == stateChunkList && len(m.visible) > 0 {
				if m.filter.Focused() {
					m.filter.Blur()
					break
				}
				m.prepareDetail()
				m.state = stateChunkDetail
				m.scroll = 0
			}

		case "/":
			if m.state == stateChunkList && !m.filter.Focused() {
				m.filter.Focus()
				return m, textinput.Blink
			}

		case "esc":
			switch {
			case m.filter.Focused():
				m.filter.Blur()
				m.filter.SetValue("")
				m.applyFilter()
			case m.state == stateChunkDetail:
				m.state = stateChunkList
			}
		}

	case containerMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.container = msg.container
		m.digestOK = msg.digestOK
		m.applyFilter()
	}

	if m.filter.Focused() {
		var cmd tea.Cmd
		m.filter, cmd = m.filter.Update(msg)
		m.applyFilter()
		return m, cmd
	}
	return m, nil
}

// applyFilter recomputes the visible chunk index list from the filter
// text.
func (m *inspectModel) applyFilter() {
	if m.container == nil {
		return
	}
	needle := strings.ToUpper(strings.TrimSpace(m.filter.Value()))
	m.visible = m.visible[:0]
	for i, ch := range m.container.Chunks {
		if needle == "" || strings.Contains(strings.ToUpper(ch.Tag.String()), needle) {
			m.visible = append(m.visible, i)
		}
	}
	if m.selected >= len(m.visible) {
		m.selected = 0
	}
}

func (m *inspectModel) prepareDetail() {
	ch := m.container.Chunks[m.visible[m.selected]]

	var lines []string
	lines = append(lines, fmt.Sprintf("%s  %d bytes", ch.Tag, len(ch.Data)))
	lines = append(lines, "")
	if summary := chunkSummary(m.container, ch.Tag); summary != "" {
		lines = append(lines, strings.Split(strings.TrimRight(summary, "\n"), "\n")...)
		lines = append(lines, "")
	}
	lines = append(lines, hexDump(ch.Data, 256)...)
	m.detail = lines
}

// chunkSummary renders the decoded view for chunk kinds the codec
// understands.
func chunkSummary(c *dxbc.Container, tag dxbc.Tag) string {
	switch {
	case tag == dxbc.TagRDEF || tag == dxbc.TagSTAT:
		text, err := dxbc.Reflect(c)
		if err != nil {
			return warnStyle.Render(err.Error())
		}
		return text
	case tag.IsSignature():
		text, err := dxbc.Disassemble(c)
		if err != nil {
			return warnStyle.Render(err.Error())
		}
		return text
	case tag.IsBytecode():
		info, ok, err := c.Bytecode()
		if err != nil {
			return warnStyle.Render(err.Error())
		}
		if ok {
			return "program: " + info.Profile()
		}
	}
	return ""
}

func hexDump(data []byte, limit int) []string {
	n := len(data)
	truncated := false
	if n > limit {
		n = limit
		truncated = true
	}

	var lines []string
	for off := 0; off < n; off += 16 {
		end := off + 16
		if end > n {
			end = n
		}
		var hex, ascii strings.Builder
		for i := off; i < end; i++ {
			fmt.Fprintf(&hex, "%02x ", data[i])
			if data[i] >= 0x20 && data[i] < 0x7F {
				ascii.WriteByte(data[i])
			} else {
				ascii.WriteByte('.')
			}
		}
		lines = append(lines, fmt.Sprintf("%08x  %-48s %s", off, hex.String(), ascii.String()))
	}
	if truncated {
		lines = append(lines, fmt.Sprintf("... %d more bytes", len(data)-limit))
	}
	return lines
}

const detailPageSize = 30

func (m *inspectModel) View() string {
	if m.err != nil {
		return warnStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n\n" + helpStyle.Render("q quit")
	}
	if m.container == nil {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("DXBC Inspector"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	if !m.digestOK {
		b.WriteString("  ")
		b.WriteString(warnStyle.Render("digest mismatch"))
	}
	b.WriteString("\n\n")

	switch m.state {
	case stateChunkList:
		if m.filter.Focused() || m.filter.Value() != "" {
			b.WriteString(m.filter.View())
			b.WriteString("\n\n")
		}
		for pos, i := range m.visible {
			ch := m.container.Chunks[i]
			line := fmt.Sprintf("%s  %s", tagStyle.Render(fmt.Sprintf("%-4s", ch.Tag)),
				sizeStyle.Render(fmt.Sprintf("%8d bytes", len(ch.Data))))
			if pos == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		if len(m.visible) == 0 {
			b.WriteString(helpStyle.Render("no chunks match"))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter open • / filter • q quit"))

	case stateChunkDetail:
		end := m.scroll + detailPageSize
		if end > len(m.detail) {
			end = len(m.detail)
		}
		for _, line := range m.detail[m.scroll:end] {
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ scroll • esc back • q quit"))
	}

	return b.String()
}

func runInteractive(filename string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("inspect needs a terminal; use 'dxbc info' instead")
	}
	p := tea.NewProgram(newInspectModel(filename), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
