// Package tui is the interactive port dashboard.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/686f6c61/linux-port-killer/internal/classify"
	"github.com/686f6c61/linux-port-killer/internal/portmgr"
)

// viewState tracks which screen the TUI is currently showing.
type viewState int

const (
	viewTable viewState = iota
	viewInfo
	viewKillConfirm
	viewKillDevConfirm
	viewKillResult
	viewFilter
)

// sortField defines what column to sort by.
type sortField int

const (
	sortByPort sortField = iota
	sortByPID
	sortByProcess
)

// Messages for async operations.
type scanDoneMsg struct {
	rows []portmgr.PortProcess
	err  error
}

type tickMsg time.Time

type killDoneMsg struct {
	results []portmgr.KillResult
	err     error
}

// Model is the main Bubbletea model for the dashboard.
type Model struct {
	manager  *portmgr.Manager
	version  string
	interval time.Duration

	rows     []portmgr.PortProcess
	filtered []int // indices into rows for currently displayed items
	devOnly  bool

	cursor       int
	scrollOffset int
	sortBy       sortField
	searchQuery  string
	paused       bool
	scanErr      error

	infoRow *portmgr.PortProcess
	killRow *portmgr.PortProcess

	results []portmgr.KillResult
	killErr error

	scanning bool
	spinner  spinner.Model

	width  int
	height int

	currentView viewState
}

// New creates a dashboard refreshing every interval.
func New(manager *portmgr.Manager, version string, interval time.Duration) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorCyan)

	if interval <= 0 {
		interval = 2 * time.Second
	}

	return Model{
		manager:     manager,
		version:     version,
		interval:    interval,
		scanning:    true,
		spinner:     sp,
		currentView: viewTable,
	}
}

// Init starts the spinner and kicks off the initial scan.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.doScan(), m.tickCmd())
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) filter() portmgr.Filter {
	if m.devOnly {
		return portmgr.FilterDevOnly
	}
	return portmgr.FilterAll
}

func (m Model) doScan() tea.Cmd {
	mgr, filter := m.manager, m.filter()
	return func() tea.Msg {
		rows, err := mgr.ListPorts(context.Background(), filter)
		return scanDoneMsg{rows: rows, err: err}
	}
}

func (m Model) doKill(portNum int, opts portmgr.KillOptions) tea.Cmd {
	mgr := m.manager
	return func() tea.Msg {
		res := mgr.KillPort(context.Background(), portNum, opts)
		return killDoneMsg{results: []portmgr.KillResult{res}}
	}
}

func (m Model) doKillDev(opts portmgr.KillOptions) tea.Cmd {
	mgr := m.manager
	return func() tea.Msg {
		results, err := mgr.KillDevPorts(context.Background(), opts)
		return killDoneMsg{results: results, err: err}
	}
}

// Update handles all messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		if m.scanning {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tickMsg:
		if !m.paused && m.currentView == viewTable {
			return m, tea.Batch(m.doScan(), m.tickCmd())
		}
		return m, m.tickCmd()

	case scanDoneMsg:
		m.scanning = false
		m.scanErr = msg.err
		if msg.err == nil {
			m.rows = msg.rows
			m.sortRows()
			m.rebuildFiltered()
		}
		return m, nil

	case killDoneMsg:
		m.results = msg.results
		m.killErr = msg.err
		m.currentView = viewKillResult
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		switch m.currentView {
		case viewTable:
			return m.updateTable(msg)
		case viewInfo:
			return m.updateInfo(msg)
		case viewKillConfirm:
			return m.updateKillConfirm(msg)
		case viewKillDevConfirm:
			return m.updateKillDevConfirm(msg)
		case viewKillResult:
			return m.updateKillResult(msg)
		case viewFilter:
			return m.updateFilter(msg)
		}
	}

	return m, nil
}

func (m Model) updateTable(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "j", "down":
		if len(m.filtered) > 0 && m.cursor < len(m.filtered)-1 {
			m.cursor++
			m.ensureCursorVisible()
		}
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
			m.ensureCursorVisible()
		}
	case "K":
		if row := m.selectedRow(); row != nil {
			m.killRow = row
			m.currentView = viewKillConfirm
		}
	case "D":
		m.currentView = viewKillDevConfirm
	case "i", "enter":
		if row := m.selectedRow(); row != nil {
			m.infoRow = row
			m.currentView = viewInfo
		}
	case "d":
		m.devOnly = !m.devOnly
		m.scanning = true
		return m, tea.Batch(m.doScan(), m.spinner.Tick)
	case "r":
		m.scanning = true
		return m, tea.Batch(m.doScan(), m.spinner.Tick)
	case "s":
		m.sortBy = (m.sortBy + 1) % 3
		m.sortRows()
		m.rebuildFiltered()
	case "p":
		m.paused = !m.paused
	case "/":
		m.currentView = viewFilter
		m.searchQuery = ""
	case "esc":
		if m.searchQuery != "" {
			m.searchQuery = ""
			m.rebuildFiltered()
		}
	}
	return m, nil
}

func (m Model) updateInfo(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "esc", "backspace":
		m.currentView = viewTable
	case "K":
		if m.infoRow != nil {
			m.killRow = m.infoRow
			m.currentView = viewKillConfirm
		}
	}
	return m, nil
}

// updateKillConfirm handles the kill dialog. Protected services need an
// upper-case Y or F so a habitual "y" cannot stop a database.
func (m Model) updateKillConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	row := m.killRow
	switch msg.String() {
	case "y":
		if row != nil && !row.IsProtected {
			return m, m.doKill(row.Port, portmgr.KillOptions{})
		}
	case "f":
		if row != nil && !row.IsProtected {
			return m, m.doKill(row.Port, portmgr.KillOptions{Force: true})
		}
	case "Y":
		if row != nil {
			return m, m.doKill(row.Port, portmgr.KillOptions{Confirmed: true})
		}
	case "F":
		if row != nil {
			return m, m.doKill(row.Port, portmgr.KillOptions{Force: true, Confirmed: true})
		}
	case "n", "esc", "N":
		m.currentView = viewTable
		m.killRow = nil
	case "q":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) updateKillDevConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y":
		return m, m.doKillDev(portmgr.KillOptions{})
	case "f":
		return m, m.doKillDev(portmgr.KillOptions{Force: true})
	case "n", "esc", "N":
		m.currentView = viewTable
	case "q":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) updateKillResult(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "esc", "enter", "backspace":
		m.currentView = viewTable
		m.killRow = nil
		m.results = nil
		m.killErr = nil
		// Refresh after kill.
		m.scanning = true
		return m, tea.Batch(m.doScan(), m.spinner.Tick)
	}
	return m, nil
}

func (m Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.currentView = viewTable
		m.rebuildFiltered()
	case "esc":
		m.currentView = viewTable
		m.searchQuery = ""
		m.rebuildFiltered()
	case "backspace":
		if len(m.searchQuery) > 0 {
			m.searchQuery = m.searchQuery[:len(m.searchQuery)-1]
			m.rebuildFiltered()
		}
	default:
		key := msg.String()
		if len(key) == 1 {
			m.searchQuery += key
			m.rebuildFiltered()
		}
	}
	return m, nil
}

func (m *Model) selectedRow() *portmgr.PortProcess {
	if len(m.filtered) == 0 || m.cursor < 0 || m.cursor >= len(m.filtered) {
		return nil
	}
	idx := m.filtered[m.cursor]
	if idx >= len(m.rows) {
		return nil
	}
	row := m.rows[idx]
	return &row
}

func (m *Model) sortRows() {
	sort.SliceStable(m.rows, func(i, j int) bool {
		switch m.sortBy {
		case sortByPID:
			return m.rows[i].PID < m.rows[j].PID
		case sortByProcess:
			return strings.ToLower(m.rows[i].ProcessName) < strings.ToLower(m.rows[j].ProcessName)
		default:
			return m.rows[i].Port < m.rows[j].Port
		}
	})
}

func (m *Model) rebuildFiltered() {
	m.filtered = m.filtered[:0]
	query := strings.ToLower(m.searchQuery)
	for i, r := range m.rows {
		if query != "" {
			match := strings.Contains(strings.ToLower(r.ProcessName), query) ||
				strings.Contains(strings.ToLower(r.User), query) ||
				strings.Contains(strings.ToLower(r.Description), query) ||
				strings.Contains(fmt.Sprint(r.Port), query) ||
				strings.Contains(fmt.Sprint(r.PID), query)
			if !match {
				continue
			}
		}
		m.filtered = append(m.filtered, i)
	}
	if m.cursor >= len(m.filtered) {
		m.cursor = max(0, len(m.filtered)-1)
	}
	m.adjustScroll()
}

func (m *Model) ensureCursorVisible() {
	visible := m.visibleRows()
	if m.cursor < m.scrollOffset {
		m.scrollOffset = m.cursor
	}
	if m.cursor >= m.scrollOffset+visible {
		m.scrollOffset = m.cursor - visible + 1
	}
}

func (m *Model) adjustScroll() {
	m.ensureCursorVisible()
	maxOffset := max(0, len(m.filtered)-m.visibleRows())
	m.scrollOffset = min(max(m.scrollOffset, 0), maxOffset)
}

func (m Model) visibleRows() int {
	// Reserve lines for: header (2), column headers (1), status (2), help (2).
	const reserved = 7
	return max(1, m.height-reserved)
}

// View renders the TUI.
func (m Model) View() string {
	switch m.currentView {
	case viewInfo:
		return m.viewInfo()
	case viewKillConfirm:
		return m.viewKillConfirm()
	case viewKillDevConfirm:
		return m.viewKillDevConfirm()
	case viewKillResult:
		return m.viewKillResult()
	case viewFilter:
		return m.viewFilter()
	default:
		return m.viewTable()
	}
}

func (m Model) viewTable() string {
	var b strings.Builder

	mode := "all ports"
	if m.devOnly {
		mode = "dev ports"
	}
	var protected int
	for _, r := range m.rows {
		if r.IsProtected {
			protected++
		}
	}
	title := titleStyle.Render(fmt.Sprintf("portkiller %s", m.version))
	stats := dimStyle.Render(fmt.Sprintf("Listening: %d  Protected: %d", len(m.rows), protected))
	b.WriteString(title + "  " + modeStyle.Render(mode) + "  " + stats)
	if m.paused {
		b.WriteString(warnStyle.Render("  [PAUSED]"))
	}
	b.WriteString("\n")

	if m.scanning && len(m.rows) == 0 {
		b.WriteString("\n" + m.spinner.View() + " Scanning ports...\n")
		return b.String()
	}
	if m.scanErr != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("  Scan failed: %v", m.scanErr)) + "\n")
	}

	sortIndicator := func(field sortField) string {
		if m.sortBy == field {
			return " ^"
		}
		return ""
	}
	b.WriteString(headerStyle.Render(fmt.Sprintf(
		"  %-7s %-6s %-8s %-16s %-4s %s",
		"PORT"+sortIndicator(sortByPort),
		"PROTO",
		"PID"+sortIndicator(sortByPID),
		"PROCESS"+sortIndicator(sortByProcess),
		"",
		"DESCRIPTION",
	)) + "\n")

	if len(m.filtered) == 0 {
		if m.searchQuery != "" {
			b.WriteString("\n  No results matching: " + m.searchQuery + "\n")
		} else {
			b.WriteString("\n  No listening ports found.\n")
		}
	} else {
		viewportRows := m.visibleRows()
		end := min(m.scrollOffset+viewportRows, len(m.filtered))

		for i := m.scrollOffset; i < end; i++ {
			r := m.rows[m.filtered[i]]

			cursor := "  "
			if i == m.cursor {
				cursor = cursorStyle.Render("> ")
			}

			descLen := max(10, m.width-48)
			line := fmt.Sprintf("%-7d %-6s %-8s %-16s %-4s %s",
				r.Port, r.Protocol, pidLabel(r.PID),
				classify.Truncate(r.ProcessName, 16),
				flags(r),
				classify.Truncate(r.Description, descLen),
			)
			b.WriteString(cursor + rowStyle(r.IsProtected, r.IsDevPort, r.Partial).Render(line) + "\n")
		}

		if len(m.filtered) > viewportRows {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  [%d-%d of %d]",
				m.scrollOffset+1, end, len(m.filtered))) + "\n")
		}
	}

	if m.searchQuery != "" {
		b.WriteString("\n" + dimStyle.Render(fmt.Sprintf("  filter: %s", m.searchQuery)))
	}

	b.WriteString(helpStyle.Render("j/k:navigate  K:kill  D:kill dev  d:dev/all  i:info  r:refresh  s:sort  p:pause  /:search  q:quit") + "\n")

	return b.String()
}

func (m Model) viewInfo() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("portkiller -- Port Info") + "\n\n")

	if m.infoRow == nil {
		b.WriteString("  No port selected.\n")
		b.WriteString(helpStyle.Render("\nesc back | q quit") + "\n")
		return b.String()
	}

	r := m.infoRow
	field := func(label, value string) {
		if value == "" {
			value = "-"
		}
		b.WriteString(labelStyle.Render(label) + valueStyle.Render(value) + "\n")
	}

	field("Port:", fmt.Sprintf("%d/%s", r.Port, r.Protocol))
	field("Address:", r.Address)
	field("Process:", fmt.Sprintf("%s (PID %s)", r.ProcessName, pidLabel(r.PID)))
	field("Description:", r.Description)
	if rule := m.manager.Classifier().MatchRule(r.ProcessName, r.CommandLine); rule != "" {
		field("Matched:", rule)
	}
	field("Command:", strings.Join(r.CommandLine, " "))
	field("User:", r.User)
	if !r.StartTime.IsZero() {
		ago := time.Since(r.StartTime).Truncate(time.Second)
		field("Started:", fmt.Sprintf("%s ago (%s)", formatDuration(ago), r.StartTime.Format("2006-01-02 15:04:05")))
	}
	if r.Container != "" {
		field("Container:", r.Container)
	}
	field("Protected:", yesNo(r.IsProtected))
	field("Dev port:", yesNo(r.IsDevPort))
	if r.Partial {
		b.WriteString(dimStyle.Render("  Some details are not readable by this user.") + "\n")
	}

	b.WriteString(helpStyle.Render("\nK:kill  esc:back  q:quit") + "\n")
	return b.String()
}

func (m Model) viewKillConfirm() string {
	var b strings.Builder

	b.WriteString(dangerStyle.Render(" STOP PROCESS ") + "\n\n")

	if m.killRow == nil {
		b.WriteString("  No process selected.\n")
		b.WriteString(helpStyle.Render("\nesc cancel | q quit") + "\n")
		return b.String()
	}

	r := m.killRow
	b.WriteString(fmt.Sprintf("  Stop %q (PID %s) on port %d?\n", r.ProcessName, pidLabel(r.PID), r.Port))
	b.WriteString("  " + dimStyle.Render(r.Description) + "\n\n")

	if r.IsProtected {
		b.WriteString(warnStyle.Render("  WARNING: this is a protected service. Stopping it may lose data.") + "\n\n")
		b.WriteString("  " + dimStyle.Render("[Y] SIGTERM (graceful)  [F] SIGKILL (force)  [n] cancel") + "\n")
		b.WriteString(helpStyle.Render("\nY:terminate  F:force  n/esc:cancel") + "\n")
		return b.String()
	}

	b.WriteString("  " + dimStyle.Render("[y] SIGTERM (graceful)  [f] SIGKILL (force)  [n] cancel") + "\n")
	b.WriteString(helpStyle.Render("\ny:terminate  f:force  n/esc:cancel") + "\n")
	return b.String()
}

func (m Model) viewKillDevConfirm() string {
	var b strings.Builder

	b.WriteString(dangerStyle.Render(" STOP DEV PORTS ") + "\n\n")
	b.WriteString("  Stop every process on a development port?\n")
	b.WriteString("  " + dimStyle.Render("Protected services are skipped.") + "\n\n")
	b.WriteString("  " + dimStyle.Render("[y] SIGTERM (graceful)  [f] SIGKILL (force)  [n] cancel") + "\n")
	b.WriteString(helpStyle.Render("\ny:terminate  f:force  n/esc:cancel") + "\n")
	return b.String()
}

func (m Model) viewKillResult() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("portkiller -- Result") + "\n\n")

	switch {
	case m.killErr != nil:
		b.WriteString(errorStyle.Render(fmt.Sprintf("  Failed: %v", m.killErr)) + "\n")
	case len(m.results) == 0:
		b.WriteString("  No processes on development ports.\n")
	}
	for _, r := range m.results {
		if r.Success {
			b.WriteString(successStyle.Render("  "+r.String()) + "\n")
		} else {
			b.WriteString(errorStyle.Render("  "+r.String()) + "\n")
		}
	}

	b.WriteString(helpStyle.Render("\nenter/esc:back  q:quit") + "\n")
	return b.String()
}

func (m Model) viewFilter() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("portkiller -- Search") + "\n\n")
	b.WriteString("  Type to filter: " + m.searchQuery + "_\n")
	b.WriteString(helpStyle.Render("\nenter:apply  esc:cancel") + "\n")

	return b.String()
}

// flags renders the P and D markers.
func flags(r portmgr.PortProcess) string {
	var s string
	if r.IsProtected {
		s += "P"
	}
	if r.IsDevPort {
		s += "D"
	}
	return s
}

func pidLabel(pid int) string {
	if pid <= 0 {
		return "-"
	}
	return fmt.Sprint(pid)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// formatDuration formats a duration into a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	hours := int(d.Hours())
	if hours < 24 {
		return fmt.Sprintf("%dh %dm", hours, int(d.Minutes())%60)
	}
	days := hours / 24
	return fmt.Sprintf("%dd %dh", days, hours%24)
}
