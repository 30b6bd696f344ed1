package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/686f6c61/linux-port-killer/internal/config"
	"github.com/686f6c61/linux-port-killer/internal/docker"
	"github.com/686f6c61/linux-port-killer/internal/port"
	"github.com/686f6c61/linux-port-killer/internal/portmgr"
	"github.com/686f6c61/linux-port-killer/internal/process"
	"github.com/686f6c61/linux-port-killer/internal/systemd"
	"github.com/686f6c61/linux-port-killer/internal/tui"
)

var (
	// Set via ldflags at build time.
	version = "dev"

	// Global flags.
	jsonOutput bool
	configPath string
	verbose    bool
)

// Per-invocation state, set up in PersistentPreRunE.
var (
	cfg     *config.Config
	engine  *portmgr.Manager
	units   unitLookup
	cleanup = func() {}
)

// unitLookup finds the systemd unit of a process.
type unitLookup interface {
	UnitForPID(ctx context.Context, pid int) (systemd.Unit, error)
}

// newEngine builds the port manager for cfg. Tests replace it.
var newEngine = func(cfg *config.Config) (*portmgr.Manager, func(), error) {
	classifier, err := cfg.Classifier()
	if err != nil {
		return nil, nil, err
	}

	source, err := port.NewSource(cfg.Backend, cfg.IncludeUDP, &port.RealCmdRunner{})
	if err != nil {
		return nil, nil, err
	}

	opts := []portmgr.Option{
		portmgr.WithClassifier(classifier),
		portmgr.WithGracePeriod(cfg.GracePeriod),
		portmgr.WithPollInterval(cfg.PollInterval),
		portmgr.WithExclude(cfg.Exclude...),
	}

	closeFn := func() {}
	if lookup, err := docker.NewLookup(); err != nil {
		slog.Debug("container lookup disabled", "error", err)
	} else {
		opts = append(opts, portmgr.WithContainerLookup(lookup))
		closeFn = func() { _ = lookup.Close() }
	}

	return portmgr.New(source, process.NewResolver(), process.NewSignaler(), opts...), closeFn, nil
}

var rootCmd = &cobra.Command{
	Use:   "portkiller",
	Short: "Find and stop the processes holding your ports",
	Long: `portkiller lists the processes listening on local ports, describes them in
plain words, and terminates them safely. Protected services such as databases
are never stopped without confirmation.
Launch without subcommands for the interactive dashboard.`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE: func(cmd *cobra.Command, args []string) error {
		if shell, _ := cmd.Flags().GetString("generate-completion"); shell != "" {
			switch shell {
			case "bash":
				return cmd.Root().GenBashCompletion(cmd.OutOrStdout())
			case "zsh":
				return cmd.Root().GenZshCompletion(cmd.OutOrStdout())
			case "fish":
				return cmd.Root().GenFishCompletion(cmd.OutOrStdout(), true)
			default:
				return fmt.Errorf("unsupported shell: %s (use bash, zsh, or fish)", shell)
			}
		}

		interval := time.Duration(cfg.RefreshInterval) * time.Second
		p := tea.NewProgram(tui.New(engine, version, interval), tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}

// setup loads the configuration and builds the engine shared by all commands.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}

	level := cfg.Level()
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))

	colorEnabled = cfg.ColorEnabled && !jsonOutput

	var closeFn func()
	engine, closeFn, err = newEngine(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	cleanup = closeFn
	if units == nil {
		units = systemd.NewUnitLookup()
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	defer func() { cleanup() }()
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("portkiller %s\n", version))
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().String("generate-completion", "", "Generate shell completion (bash, zsh, fish)")
	if err := rootCmd.Flags().MarkHidden("generate-completion"); err != nil {
		panic(err)
	}
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/portkiller/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(listDevCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(killDevCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(watchCmd)
}

// stdinIsTerminal reports whether prompts can be answered.
func stdinIsTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok {
		return true
	}
	st, err := f.Stat()
	return err == nil && st.Mode()&os.ModeCharDevice != 0
}
