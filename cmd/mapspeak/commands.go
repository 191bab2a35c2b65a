package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mapspeak/mapspeak/internal/config"
)

// commandResult mirrors the server's command response for display.
type commandResult struct {
	Success bool   `json:"success"`
	Blocked bool   `json:"blocked"`
	Message string `json:"message"`
	Intent  *struct {
		Operation      string         `json:"operation"`
		InputLayer     string         `json:"input_layer"`
		SecondaryLayer string         `json:"secondary_layer"`
		Parameters     map[string]any `json:"parameters"`
		Confidence     float64        `json:"confidence"`
	} `json:"intent"`
	Issues []struct {
		Type     string `json:"type"`
		Message  string `json:"message"`
		Severity string `json:"severity"`
	} `json:"issues"`
	Suggestions   []string `json:"suggestions"`
	TransactionID string   `json:"transaction_id"`
}

func printResult(result commandResult) {
	switch {
	case result.Blocked:
		printWarning("%s", result.Message)
	case result.Success:
		printSuccess("%s", result.Message)
	default:
		printError("%s", result.Message)
	}

	if result.Intent != nil {
		printStatus("Operation", "%s", result.Intent.Operation)
		if result.Intent.InputLayer != "" {
			printStatus("Layer", "%s", result.Intent.InputLayer)
		}
		if result.Intent.SecondaryLayer != "" {
			printStatus("Overlay", "%s", result.Intent.SecondaryLayer)
		}
		printStatus("Confidence", "%.2f", result.Intent.Confidence)
	}
	if result.TransactionID != "" {
		printStatus("Transaction", "%s", result.TransactionID)
	}

	for _, issue := range result.Issues {
		if issue.Severity == "error" {
			printError("%s", issue.Message)
		} else {
			printWarning("%s", issue.Message)
		}
	}
	for _, s := range result.Suggestions {
		printStep("%s", s)
	}
}

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run <command...>",
	Short: "Run a natural-language map command",
	Long: `Run a natural-language map command.

Examples:
  mapspeak run buffer the rivers layer by 2 kilometers
  mapspeak run clip roads with city boundaries
  mapspeak run select buildings where area is greater than 1000`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/commands", map[string]string{"text": text})
		if err != nil {
			return err
		}

		var result commandResult
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printResult(result)
		if !result.Success {
			return fmt.Errorf("command failed")
		}
		return nil
	},
}

// --- interpret ---

var interpretCmd = &cobra.Command{
	Use:   "interpret <command...>",
	Short: "Interpret a command without executing it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/interpret", map[string]string{"text": text})
		if err != nil {
			return err
		}

		var result commandResult
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printResult(result)
		if result.Intent != nil && len(result.Intent.Parameters) > 0 {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result.Intent.Parameters)
		}
		return nil
	},
}

// --- tx ---

var txCmd = &cobra.Command{
	Use:   "tx",
	Short: "Inspect the transaction log",
}

var txListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/transactions?limit=%d", limit))
		if err != nil {
			return err
		}

		var txs []struct {
			ID               string `json:"id"`
			Timestamp        string `json:"timestamp"`
			Operation        string `json:"operation"`
			Success          bool   `json:"success"`
			HasStateSnapshot bool   `json:"has_state_snapshot"`
		}
		if err := decodeJSON(resp, &txs); err != nil {
			return err
		}

		if len(txs) == 0 {
			fmt.Println("No transactions recorded.")
			return nil
		}

		for _, tx := range txs {
			status := colorize(colorGreen, "ok")
			if !tx.Success {
				status = colorize(colorRed, "failed")
			}
			snapshot := ""
			if tx.HasStateSnapshot {
				snapshot = " [snapshot]"
			}
			fmt.Printf("%s  %s  %-14s %s%s\n",
				colorize(colorCyan, tx.ID),
				tx.Timestamp,
				tx.Operation,
				status,
				snapshot,
			)
		}
		return nil
	},
}

func init() {
	txListCmd.Flags().Int("limit", 20, "maximum number of transactions to list")
	txCmd.AddCommand(txListCmd)
}

// --- rollback ---

var rollbackCmd = &cobra.Command{
	Use:   "rollback [transaction-id]",
	Short: "Roll back to a previous state snapshot",
	Long: `Roll back to a previous state snapshot.

With no argument, restores the most recent snapshot. With a transaction
ID, restores the state captured for that transaction, undoing everything
recorded after it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{}
		if len(args) == 1 {
			body["transaction_id"] = args[0]
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/rollback", body)
		if err != nil {
			return err
		}

		var result commandResult
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("%s", result.Message)
		return nil
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently processed commands",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/commands?limit=%d", limit))
		if err != nil {
			return err
		}

		var commands []struct {
			CreatedAt  string  `json:"created_at"`
			Text       string  `json:"text"`
			Operation  string  `json:"operation"`
			Confidence float64 `json:"confidence"`
			Success    bool    `json:"success"`
		}
		if err := decodeJSON(resp, &commands); err != nil {
			return err
		}

		if len(commands) == 0 {
			fmt.Println("No commands recorded.")
			return nil
		}

		for _, c := range commands {
			text := c.Text
			if len(text) > 60 {
				text = text[:60] + "..."
			}
			status := colorize(colorGreen, "ok")
			if !c.Success {
				status = colorize(colorRed, "failed")
			}
			fmt.Printf("%s  %-14s %.2f  %s  %s\n",
				c.CreatedAt, c.Operation, c.Confidence, status, text)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of commands to list")
}

// --- errors ---

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Show error statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/errors/stats")
		if err != nil {
			return err
		}

		var stats struct {
			TotalErrors                  int                `json:"total_errors"`
			TotalActions                 int                `json:"total_actions"`
			ErrorCounts                  map[string]int     `json:"error_counts"`
			ErrorPercentages             map[string]float64 `json:"error_percentages"`
			MostCommonPrecedingOperation string             `json:"most_common_preceding_operation"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("Actions", "%d", stats.TotalActions)
		printStatus("Errors", "%d", stats.TotalErrors)
		for errorType, count := range stats.ErrorCounts {
			printStatus(errorType, "%d (%.1f%%)", count, stats.ErrorPercentages[errorType])
		}
		if stats.MostCommonPrecedingOperation != "" {
			printWarning("Most errors follow the %s operation", stats.MostCommonPrecedingOperation)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
