package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/686f6c61/linux-port-killer/internal/portmgr"
)

var colorEnabled = true

var (
	protectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	devStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	successStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	failureStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	warnStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
)

func paint(style lipgloss.Style, s string) string {
	if !colorEnabled {
		return s
	}
	return style.Render(s)
}

// markers returns the [P] and [D] flags of a row.
func markers(p portmgr.PortProcess) string {
	var s string
	if p.IsProtected {
		s += paint(protectedStyle, "[P]")
	}
	if p.IsDevPort {
		if s != "" {
			s += " "
		}
		s += paint(devStyle, "[D]")
	}
	return s
}

func resultLine(r portmgr.KillResult) string {
	if r.Success {
		return paint(successStyle, "✓ ") + r.String()
	}
	if r.Reason == portmgr.ReasonConfirmationRequired {
		return paint(warnStyle, "! ") + r.String()
	}
	return paint(failureStyle, "✗ ") + r.String()
}
