package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/686f6c61/linux-port-killer/internal/classify"
	"github.com/686f6c61/linux-port-killer/internal/portmgr"
)

var (
	filterPort  int
	filterProc  string
	filterProto string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all listening ports",
	Long:  "Display a table of every listening port and the process behind it.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList(cmd, portmgr.FilterAll)
	},
}

var listDevCmd = &cobra.Command{
	Use:   "list-dev",
	Short: "List listening development ports",
	Long:  "Display only the ports in the development port ranges.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList(cmd, portmgr.FilterDevOnly)
	},
}

func init() {
	for _, c := range []*cobra.Command{listCmd, listDevCmd} {
		c.Flags().IntVar(&filterPort, "port", 0, "Filter by port number")
		c.Flags().StringVar(&filterProc, "process", "", "Filter by process name")
		c.Flags().StringVar(&filterProto, "protocol", "", "Filter by protocol (tcp/udp)")
	}
}

func runList(cmd *cobra.Command, filter portmgr.Filter) error {
	rows, err := engine.ListPorts(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("failed to list ports: %w", err)
	}

	rows = filterRows(rows)

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No listening ports found.")
		return nil
	}
	return printTable(cmd.OutOrStdout(), rows)
}

func filterRows(rows []portmgr.PortProcess) []portmgr.PortProcess {
	var filtered []portmgr.PortProcess
	for _, r := range rows {
		if filterPort > 0 && r.Port != filterPort {
			continue
		}
		if filterProc != "" && !strings.Contains(strings.ToLower(r.ProcessName), strings.ToLower(filterProc)) {
			continue
		}
		if filterProto != "" && !strings.EqualFold(string(r.Protocol), filterProto) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

func printTable(out io.Writer, rows []portmgr.PortProcess) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tPROTO\tPID\tPROCESS\tUSER\tCOMMAND\t")
	for _, r := range rows {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Port, r.Protocol, pidString(r.PID), orDash(r.ProcessName), orDash(r.User),
			classify.Truncate(r.Description, 60), markers(r))
	}
	return w.Flush()
}

type jsonRow struct {
	Port        int      `json:"port"`
	Protocol    string   `json:"protocol"`
	Address     string   `json:"address"`
	PID         int      `json:"pid"`
	Process     string   `json:"process"`
	User        string   `json:"user"`
	Description string   `json:"description"`
	CommandLine []string `json:"command_line"`
	Protected   bool     `json:"protected"`
	DevPort     bool     `json:"dev_port"`
	Container   string   `json:"container,omitempty"`
	Partial     bool     `json:"partial,omitempty"`
}

func toJSONRow(r portmgr.PortProcess) jsonRow {
	return jsonRow{
		Port:        r.Port,
		Protocol:    string(r.Protocol),
		Address:     r.Address,
		PID:         r.PID,
		Process:     r.ProcessName,
		User:        r.User,
		Description: r.Description,
		CommandLine: r.CommandLine,
		Protected:   r.IsProtected,
		DevPort:     r.IsDevPort,
		Container:   r.Container,
		Partial:     r.Partial,
	}
}

func printJSON(out io.Writer, rows []portmgr.PortProcess) error {
	list := make([]jsonRow, len(rows))
	for i, r := range rows {
		list[i] = toJSONRow(r)
	}
	return encodeJSON(out, list)
}

func encodeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func pidString(pid int) string {
	if pid <= 0 {
		return "-"
	}
	return fmt.Sprint(pid)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
