package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/686f6c61/linux-port-killer/internal/portmgr"
)

var infoCmd = &cobra.Command{
	Use:   "info <port>",
	Short: "Detailed info about a port and its process",
	Long:  "Display detailed information about the process listening on the specified port.",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	portNum, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid port number: %w", err)
	}

	row, err := engine.GetPortInfo(cmd.Context(), portNum)
	if portmgr.IsNotFound(err) {
		return &ExitCodeError{Code: ExitNotFound, Err: err}
	}
	if err != nil {
		return err
	}

	var unit string
	if row.PID > 0 && units != nil {
		if u, err := units.UnitForPID(cmd.Context(), row.PID); err == nil {
			unit = u.String()
		}
	}
	rule := engine.Classifier().MatchRule(row.ProcessName, row.CommandLine)

	if jsonOutput {
		return printInfoJSON(cmd.OutOrStdout(), row, unit, rule)
	}
	printInfoHuman(cmd.OutOrStdout(), row, unit, rule)
	return nil
}

func printInfoHuman(out io.Writer, r portmgr.PortProcess, unit, rule string) {
	fmt.Fprintf(out, "Port:        %d/%s\n", r.Port, r.Protocol)
	fmt.Fprintf(out, "Address:     %s\n", orDash(r.Address))
	fmt.Fprintf(out, "Status:      %s\n", r.Status)
	fmt.Fprintf(out, "Process:     %s (PID %s)\n", orDash(r.ProcessName), pidString(r.PID))
	fmt.Fprintf(out, "Description: %s\n", r.Description)
	if rule != "" {
		fmt.Fprintf(out, "Matched:     %s\n", rule)
	}
	fmt.Fprintf(out, "Command:     %s\n", orDash(strings.Join(r.CommandLine, " ")))
	fmt.Fprintf(out, "User:        %s\n", orDash(r.User))

	if !r.StartTime.IsZero() {
		ago := time.Since(r.StartTime).Truncate(time.Second)
		fmt.Fprintf(out, "Started:     %s ago (%s)\n",
			formatDuration(ago),
			r.StartTime.Format("2006-01-02 15:04:05"))
	}
	if unit != "" {
		fmt.Fprintf(out, "Unit:        %s\n", unit)
	}
	if r.Container != "" {
		fmt.Fprintf(out, "Container:   %s\n", r.Container)
	}

	fmt.Fprintf(out, "Protected:   %s\n", yesNo(r.IsProtected))
	fmt.Fprintf(out, "Dev port:    %s\n", yesNo(r.IsDevPort))
	if r.Partial {
		fmt.Fprintln(out, "Details:     (partial: some process details are not readable by this user)")
	}
}

func printInfoJSON(out io.Writer, r portmgr.PortProcess, unit, rule string) error {
	type jsonInfo struct {
		jsonRow
		Status    string `json:"status"`
		StartTime string `json:"start_time,omitempty"`
		Unit      string `json:"unit,omitempty"`
		Rule      string `json:"rule,omitempty"`
	}

	info := jsonInfo{
		jsonRow: toJSONRow(r),
		Status:  r.Status,
		Unit:    unit,
		Rule:    rule,
	}
	if !r.StartTime.IsZero() {
		info.StartTime = r.StartTime.Format(time.RFC3339)
	}
	return encodeJSON(out, info)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
	hours := int(d.Hours())
	if hours < 24 {
		return fmt.Sprintf("%d hours", hours)
	}
	days := hours / 24
	return fmt.Sprintf("%d days %d hours", days, hours%24)
}
