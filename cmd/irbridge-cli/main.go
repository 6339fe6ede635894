// irbridge-cli talks to a running irbridged over its session port and
// inspects the daemon's config file.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/adumbdinosaur/irbridge/internal/config"
	"github.com/adumbdinosaur/irbridge/internal/ircode"
	"github.com/adumbdinosaur/irbridge/internal/transport"
)

var (
	configPath string
	addr       string
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "irbridge-cli",
	Short: "Control interface for irbridged",
	Long: `irbridge-cli sends command lines to irbridged and lists what the daemon's
config file defines.

Examples:
  irbridge-cli send r            # Kaseikyo Denon: AVR ON
  irbridge-cli send p1 p2        # projector on, then off
  irbridge-cli commands          # list command keys`,
	SilenceUsage: true,
}

var sendCmd = &cobra.Command{
	Use:   "send <line>...",
	Short: "Send lines to a session, then bye",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transport.NewClient(addr, timeout).Run(args, cmd.OutOrStdout())
	},
}

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List the configured command keys and IR actions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.ResolvePath(configPath))
		if err != nil {
			return err
		}
		printTables(cmd.OutOrStdout(), cfg)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.ResolvePath(configPath))
		if err != nil {
			return err
		}
		data, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var protocolsCmd = &cobra.Command{
	Use:   "protocols",
	Short: "List the IR protocol names accepted in the config",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, p := range ircode.Protocols() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s\n", p.Wire(), p)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path")
	sendCmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:23", "irbridged session address")
	sendCmd.Flags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "Whole exchange timeout")

	rootCmd.AddCommand(sendCmd, commandsCmd, configCmd, protocolsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func printTables(out io.Writer, cfg *config.Config) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tPROTOCOL\tADDRESS\tCOMMAND\tREPEATS\tACK")
	for _, e := range cfg.CommandTable().Entries() {
		c := e.Command
		fmt.Fprintf(w, "%s\t%s\t0x%X\t0x%X\t%d\t%s\n", e.Key, c.Protocol, c.Address, c.Command, c.Repeats, e.Ack)
	}
	w.Flush()

	actions := cfg.ActionTable().Entries()
	if len(actions) == 0 {
		return
	}
	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tMESSAGE\tRELAY")
	for _, a := range actions {
		relay := a.Relay
		if relay == "" {
			relay = "-"
		}
		fmt.Fprintf(w, "0x%02X\t%s\t%s\n", a.Code, strings.TrimSpace(a.Message), relay)
	}
	w.Flush()
}
