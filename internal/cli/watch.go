package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/686f6c61/linux-port-killer/internal/portmgr"
)

var (
	watchInterval int
	watchDev      bool
	watchAlert    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Auto-refresh port table in terminal",
	Long: `Continuously display listening ports with periodic refresh.

With --alert, monitors for new port listeners that appear after the initial
scan. When a new listener is detected, prints an alert and exits with code 1.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().IntVar(&watchInterval, "interval", 0, "Refresh interval in seconds (default from config)")
	watchCmd.Flags().BoolVar(&watchDev, "dev", false, "Only show development ports")
	watchCmd.Flags().BoolVar(&watchAlert, "alert", false, "Alert and exit on new port listeners")
	watchCmd.Flags().IntVar(&filterPort, "port", 0, "Filter by port number")
	watchCmd.Flags().StringVar(&filterProc, "process", "", "Filter by process name")
	watchCmd.Flags().StringVar(&filterProto, "protocol", "", "Filter by protocol (tcp/udp)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	interval := time.Duration(watchInterval) * time.Second
	if watchInterval <= 0 {
		interval = time.Duration(cfg.RefreshInterval) * time.Second
	}

	if watchAlert {
		return watchForNew(ctx, cmd.OutOrStdout(), interval)
	}

	out := cmd.OutOrStdout()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := watchOnce(ctx, out); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nStopped watching.")
			return nil
		case <-ticker.C:
			if err := watchOnce(ctx, out); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
			}
		}
	}
}

func watchFilter() portmgr.Filter {
	if watchDev {
		return portmgr.FilterDevOnly
	}
	return portmgr.FilterAll
}

// scanFiltered lists ports and applies the current filters.
func scanFiltered(ctx context.Context) ([]portmgr.PortProcess, error) {
	rows, err := engine.ListPorts(ctx, watchFilter())
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}
	return filterRows(rows), nil
}

func watchForNew(ctx context.Context, out io.Writer, interval time.Duration) error {
	baseline, err := scanFiltered(ctx)
	if err != nil {
		return err
	}
	known := makePortKeySet(baseline)

	if !jsonOutput {
		fmt.Fprintf(out, "Monitoring %d port(s) for new listeners... (interval: %s)\n",
			len(baseline), interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if !jsonOutput {
				fmt.Fprintln(out, "\nStopped watching.")
			}
			return nil
		case <-ticker.C:
			current, err := scanFiltered(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Warn("scan failed", "error", err)
				continue
			}
			if added := findNewRows(current, known); len(added) > 0 {
				return printAlert(out, added)
			}
		}
	}
}

// portKey identifies a listener independently of the PID serving it.
func portKey(r portmgr.PortProcess) string {
	return fmt.Sprintf("%d/%s", r.Port, r.Protocol)
}

func makePortKeySet(rows []portmgr.PortProcess) map[string]struct{} {
	keys := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		keys[portKey(r)] = struct{}{}
	}
	return keys
}

// findNewRows returns rows not present in the baseline set.
func findNewRows(current []portmgr.PortProcess, baseline map[string]struct{}) []portmgr.PortProcess {
	var added []portmgr.PortProcess
	for _, r := range current {
		if _, ok := baseline[portKey(r)]; !ok {
			added = append(added, r)
		}
	}
	return added
}

func printAlert(out io.Writer, rows []portmgr.PortProcess) error {
	alertErr := &ExitCodeError{Code: ExitError, Err: fmt.Errorf("alert: %d new port listener(s) detected", len(rows))}

	if jsonOutput {
		type alertOutput struct {
			Alert   string    `json:"alert"`
			Count   int       `json:"count"`
			Entries []jsonRow `json:"entries"`
		}
		a := alertOutput{Alert: "new_port_listeners", Count: len(rows), Entries: make([]jsonRow, len(rows))}
		for i, r := range rows {
			a.Entries[i] = toJSONRow(r)
		}
		if err := encodeJSON(out, a); err != nil {
			return fmt.Errorf("failed to encode alert JSON: %w", err)
		}
		return alertErr
	}

	fmt.Fprintf(out, "\nALERT: %d new port listener(s) detected!\n\n", len(rows))
	if err := printTable(out, rows); err != nil {
		return err
	}
	return alertErr
}

func watchOnce(ctx context.Context, out io.Writer) error {
	rows, err := scanFiltered(ctx)
	if err != nil {
		return err
	}

	// Clear screen.
	fmt.Fprint(out, "\033[2J\033[H")

	var dev, protected int
	for _, r := range rows {
		if r.IsDevPort {
			dev++
		}
		if r.IsProtected {
			protected++
		}
	}
	fmt.Fprintf(out, "portkiller watch | Listening: %d  Dev: %d  Protected: %d | %s | Ctrl+C to stop\n\n",
		len(rows), dev, protected, time.Now().Format("15:04:05"))

	if len(rows) == 0 {
		fmt.Fprintln(out, "No ports found matching filter.")
		return nil
	}
	return printTable(out, rows)
}
