package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/idorocodes/qight/internal/config"
	"github.com/idorocodes/qight/internal/logging"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View relay logs",
	Long: `View and filter the relay's log file.

The relay writes JSON logs to the file named by logging.file; this
command parses, filters and prints them.

Examples:
  qight logs --tail 100
  qight logs --level warn --component store
  qight logs --session 83f2c01b --format json
  qight logs --since 1h --grep duplicate`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsFile      string
	logsTail      int
	logsLevel     string
	logsComponent string
	logsSession   string
	logsClient    string
	logsSince     time.Duration
	logsGrep      string
	logsFormat    string
)

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().StringVar(&logsFile, "file", "", "log file to read (default from logging.file)")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "show only the last N entries (0 = all)")
	logsCmd.Flags().StringVarP(&logsLevel, "level", "l", "", "minimum level (debug, info, warn, error)")
	logsCmd.Flags().StringVar(&logsComponent, "component", "", "filter by component (relay, session, store, ...)")
	logsCmd.Flags().StringVar(&logsSession, "session", "", "filter by session ID")
	logsCmd.Flags().StringVar(&logsClient, "client", "", "filter by client ID")
	logsCmd.Flags().DurationVar(&logsSince, "since", 0, "only entries newer than this (e.g. 30m, 2h)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "only entries whose message contains this substring")
	logsCmd.Flags().StringVarP(&logsFormat, "format", "f", "text", "output format (text or json)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	path := logsFile
	if path == "" {
		path = config.Get().Logging.File
	}
	if path == "" {
		return fmt.Errorf("no log file configured: the relay logs to stderr\nSet logging.file (or pass --file) to capture logs")
	}
	if logsFormat != "text" && logsFormat != "json" {
		return fmt.Errorf("invalid format %q: expected text or json", logsFormat)
	}

	entries, err := logging.ReadLogFile(path)
	if err != nil {
		return err
	}

	filter := logging.LogFilter{
		Component:       logsComponent,
		SessionID:       logsSession,
		ClientID:        logsClient,
		MessageContains: logsGrep,
	}
	if logsLevel != "" {
		filter.Level = logging.ParseLevel(logsLevel)
	}
	if logsSince > 0 {
		filter.StartTime = time.Now().Add(-logsSince)
	}
	entries = logging.FilterLogs(entries, filter)

	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}
	if len(entries) == 0 {
		fmt.Println("No matching log entries.")
		return nil
	}
	return logging.WriteEntries(os.Stdout, entries, logsFormat)
}
