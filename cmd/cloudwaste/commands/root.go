package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/surpriz/cloud-waste-sub010/pkg/version"
)

var (
	cfgFile  string
	logLevel string
	v        = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   version.AppName,
	Short: "Orphaned cloud resource scanner",
	Long: `cloudwaste finds provisioned but unused cloud resources across AWS, Azure,
GCP and Microsoft 365 accounts and estimates what they cost.`,
	Version:       version.Current,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default $HOME/.cloudwaste.yaml)")
	pf.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "json", "log format: json or text")
	pf.String("store-driver", "", "finding store: memory, sqlite or dynamodb")
	pf.String("store-dsn", "", "sqlite DSN")
	pf.String("otel-endpoint", "", "OTLP HTTP endpoint")
	pf.String("rules-file", "", "YAML file with detection rule overrides")
	pf.String("pricing-snapshot", "", "pricing snapshot location (directory or s3://bucket/prefix)")

	bind(pf, "log_format", "log-format")
	bind(pf, "store.driver", "store-driver")
	bind(pf, "store.dsn", "store-dsn")
	bind(pf, "otel_endpoint", "otel-endpoint")
	bind(pf, "rules_file", "rules-file")
	bind(pf, "pricing.snapshot_url", "pricing-snapshot")

	rootCmd.SetHelpFunc(renderHelp)

	rootCmd.AddCommand(scanCmd, statusCmd, findingsCmd, pricingCmd, permissionsCmd)
}

func bind(fs *pflag.FlagSet, key, flag string) {
	if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() {
	// A missing .env is the normal case.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] .env: %v\n", err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.SetConfigFile(filepath.Join(home, ".cloudwaste.yaml"))
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil && cfgFile != "" {
		fmt.Fprintf(os.Stderr, "[WARN] config %s: %v\n", cfgFile, err)
	}
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FF99")).MarginBottom(1)
	flagStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F87"))
)

func renderHelp(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("CLOUDWASTE %s", version.Current)))
	if cmd.Long != "" {
		fmt.Fprintln(out, cmd.Long)
	} else {
		fmt.Fprintln(out, cmd.Short)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, titleStyle.Render("USAGE"))
	fmt.Fprintf(out, "  %s\n\n", cmd.UseLine())

	if cmd.HasAvailableSubCommands() {
		fmt.Fprintln(out, titleStyle.Render("COMMANDS"))
		for _, c := range cmd.Commands() {
			if c.IsAvailableCommand() {
				fmt.Fprintf(out, "  %-12s %s\n", c.Name(), c.Short)
			}
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, titleStyle.Render("FLAGS"))
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		line := fmt.Sprintf("  --%-18s %s", f.Name, f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" {
			line += fmt.Sprintf(" (default %s)", f.DefValue)
		}
		fmt.Fprintln(out, flagStyle.Render(line))
	})
	fmt.Fprintln(out)
}
