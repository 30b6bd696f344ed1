package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/686f6c61/linux-port-killer/internal/portmgr"
)

var (
	forceKill bool
	assumeYes bool
)

var killCmd = &cobra.Command{
	Use:   "kill <port>",
	Short: "Stop the process listening on a port",
	Long: `Send SIGTERM to the process listening on the port, escalating to SIGKILL
if it is still running after the grace period. Protected services ask for
confirmation first.`,
	Args: cobra.ExactArgs(1),
	RunE: runKill,
}

var killDevCmd = &cobra.Command{
	Use:   "kill-dev",
	Short: "Stop every process on a development port",
	Long: `Stop the processes listening on all development ports. Protected services
on those ports are skipped unless -y is given.`,
	Args: cobra.NoArgs,
	RunE: runKillDev,
}

func init() {
	for _, c := range []*cobra.Command{killCmd, killDevCmd} {
		c.Flags().BoolVarP(&forceKill, "force", "f", false, "Send SIGKILL immediately instead of SIGTERM")
		c.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
	}
}

func runKill(cmd *cobra.Command, args []string) error {
	portNum, err := strconv.Atoi(args[0])
	if err != nil || portNum < 1 || portNum > 65535 {
		return fmt.Errorf("invalid port number: %q", args[0])
	}

	opts := portmgr.KillOptions{Force: forceKill, Confirmed: assumeYes}
	res := engine.KillPort(cmd.Context(), portNum, opts)

	if res.Reason == portmgr.ReasonConfirmationRequired && !assumeYes && !jsonOutput && stdinIsTerminal(cmd) {
		question := fmt.Sprintf("%s (PID %d) on port %d is a protected service. Stop it anyway?",
			res.ProcessName, res.PID, res.Port)
		ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), question)
		if err != nil {
			return err
		}
		if ok {
			opts.Confirmed = true
			res = engine.KillPort(cmd.Context(), portNum, opts)
		}
	}

	if err := printResults(cmd.OutOrStdout(), []portmgr.KillResult{res}); err != nil {
		return err
	}
	return resultsError([]portmgr.KillResult{res})
}

func runKillDev(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if !assumeYes && !jsonOutput && stdinIsTerminal(cmd) {
		rows, err := engine.ListPorts(cmd.Context(), portmgr.FilterDevOnly)
		if err != nil {
			return fmt.Errorf("failed to list ports: %w", err)
		}
		if len(rows) == 0 {
			fmt.Fprintln(out, "No processes on development ports.")
			return nil
		}
		if err := printTable(out, rows); err != nil {
			return err
		}
		ok, err := confirm(cmd.InOrStdin(), out, fmt.Sprintf("Stop %d process(es)?", len(rows)))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	results, err := engine.KillDevPorts(cmd.Context(), portmgr.KillOptions{Force: forceKill, Confirmed: assumeYes})
	if err != nil {
		return fmt.Errorf("failed to stop development ports: %w", err)
	}
	if len(results) == 0 && !jsonOutput {
		fmt.Fprintln(out, "No processes on development ports.")
		return nil
	}
	if err := printResults(out, results); err != nil {
		return err
	}
	return resultsError(results)
}

// confirm asks a yes/no question; anything but y or yes is no.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

type jsonResult struct {
	Port      int    `json:"port"`
	PID       int    `json:"pid"`
	Process   string `json:"process"`
	Success   bool   `json:"success"`
	Signal    string `json:"signal,omitempty"`
	Escalated bool   `json:"escalated,omitempty"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

func printResults(out io.Writer, results []portmgr.KillResult) error {
	if !jsonOutput {
		for _, r := range results {
			fmt.Fprintln(out, resultLine(r))
		}
		return nil
	}

	list := make([]jsonResult, len(results))
	for i, r := range results {
		list[i] = jsonResult{
			Port:      r.Port,
			PID:       r.PID,
			Process:   r.ProcessName,
			Success:   r.Success,
			Signal:    string(r.Signal),
			Escalated: r.Escalated,
			State:     string(r.State),
			Reason:    string(r.Reason),
		}
		if r.Err != nil {
			list[i].Error = r.Err.Error()
		}
	}
	return encodeJSON(out, list)
}
