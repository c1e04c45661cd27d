package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/idorocodes/qight/internal/admin"
	"github.com/idorocodes/qight/internal/config"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show statistics from a running relay",
	Long: `Query a running relay's admin endpoint and display its statistics.

Shows:
- Active sessions and uptime
- Mailbox and pending message counts
- Enqueue/fetch/ack/expiry counters since start`,
	RunE: runStats,
}

var (
	statsAddr string // Admin endpoint override
	statsJSON bool   // Output as JSON
)

func init() {
	statsCmd.Flags().StringVar(&statsAddr, "admin", "", "admin endpoint address (default from admin.addr)")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output statistics as JSON")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	addr := statsAddr
	if addr == "" {
		addr = config.Get().Admin.Addr
	}
	if addr == "" {
		return fmt.Errorf("admin endpoint disabled: set admin.addr or pass --admin")
	}

	stats, err := fetchStats(addr)
	if err != nil {
		return err
	}

	if statsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	printStatsText(addr, stats)
	return nil
}

func fetchStats(addr string) (*admin.StatsResponse, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + "/stats")
	if err != nil {
		return nil, fmt.Errorf("query relay admin endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("admin endpoint returned %s", resp.Status)
	}

	var stats admin.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return &stats, nil
}

func printStatsText(addr string, stats *admin.StatsResponse) {
	fmt.Println()
	fmt.Println("RELAY")
	fmt.Println(strings.Repeat("─", 50))
	fmt.Printf("Admin endpoint: http://%s\n", addr)
	fmt.Printf("Started: %s\n", stats.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Uptime: %s\n", time.Duration(stats.UptimeSeconds)*time.Second)
	fmt.Printf("Active sessions: %d\n", stats.ActiveSessions)
	fmt.Println()

	fmt.Println("STORE")
	fmt.Println(strings.Repeat("─", 50))
	fmt.Printf("Mailboxes: %d\n", stats.Store.Mailboxes)
	fmt.Printf("Messages pending: %d\n", stats.Store.Messages)
	fmt.Println()
	fmt.Printf("Enqueued:   %d\n", stats.Store.Enqueued)
	fmt.Printf("Fetched:    %d\n", stats.Store.Fetched)
	fmt.Printf("Acked:      %d\n", stats.Store.Acked)
	fmt.Printf("Expired:    %d\n", stats.Store.Expired)
	fmt.Printf("Duplicates: %d\n", stats.Store.Duplicates)
	if stats.Store.PrunedMailboxes > 0 {
		fmt.Printf("Pruned mailboxes: %d\n", stats.Store.PrunedMailboxes)
	}
	if stats.Store.PersistFailures > 0 {
		fmt.Printf("⚠ Persist failures: %d\n", stats.Store.PersistFailures)
	}
	fmt.Println()
}
