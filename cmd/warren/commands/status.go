package commands

import (
	"encoding/json"

	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/internal/spool"
	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status [transaction-id]",
	Short: "Inspect spooled non-blocking transactions",
	Long: `Without arguments, list every transaction currently present in the spool
with its recorded status. With a transaction id, print that transaction's
persisted metadata document.

Use --json for machine-readable output.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return printer.Error("Cannot load configuration", err.Error(),
			[]string{"Pass the agent configuration file with --config"})
	}

	if len(args) == 1 {
		return showTransaction(cfg.SpoolDir, args[0])
	}
	return listTransactions(cfg.SpoolDir)
}

func showTransaction(spoolDir, transactionID string) error {
	record, err := spool.ReadRecord(spoolDir, transactionID)
	if err != nil {
		return printer.Error("Cannot read transaction", err.Error(),
			[]string{"Check the transaction id with 'warren status'"})
	}

	if statusJSON {
		printer.Println(string(record.Metadata))
		return nil
	}

	var pretty map[string]interface{}
	if err := json.Unmarshal(record.Metadata, &pretty); err != nil {
		printer.Warning("Metadata of transaction %s is not valid JSON\n", transactionID)
		printer.Println(string(record.Metadata))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	printer.Println(string(out))
	return nil
}

func listTransactions(spoolDir string) error {
	ids, err := spool.List(spoolDir)
	if err != nil {
		return printer.Error("Cannot read spool", err.Error(), nil)
	}

	if statusJSON {
		type entry struct {
			TransactionID string `json:"transaction_id"`
			Status        string `json:"status"`
		}
		entries := make([]entry, 0, len(ids))
		for _, id := range ids {
			record, err := spool.ReadRecord(spoolDir, id)
			status := "unknown"
			if err == nil {
				status = record.Status()
			}
			entries = append(entries, entry{TransactionID: id, Status: status})
		}
		out, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		printer.Println(string(out))
		return nil
	}

	if len(ids) == 0 {
		printer.Println("No transactions in the spool")
		return nil
	}

	printer.Printf("%-36s %s\n", "TRANSACTION", "STATUS")
	for _, id := range ids {
		record, err := spool.ReadRecord(spoolDir, id)
		status := "unknown"
		if err == nil {
			status = record.Status()
		}
		printer.Printf("%-36s %s\n", id, status)
	}
	return nil
}
