package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/illuvrse/operator/internal/audit"
	"github.com/illuvrse/operator/pkg/color"
	"github.com/illuvrse/operator/pkg/model"
)

var (
	logTail   int
	logFollow bool
	logVerify bool
	logRun    string
	logAction string
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the audit log",
	Long: `Show the audit log.

Prints the last records of .operator/audit.jsonl. Each record links to
its predecessor by hash; --verify walks the chain and fails on any
gap or alteration.

Examples:
  operator log                      # Last 50 records
  operator log --tail 200 --run <id>
  operator log --action command     # Only executed commands
  operator log --follow             # Stream new records
  operator log --verify`,
	Run: func(cmd *cobra.Command, args []string) {
		r := requireRepo()
		path := r.Paths.AuditLog

		if logVerify {
			n, err := audit.Verify(path)
			if err != nil {
				if jsonOutput {
					outputJSON(map[string]any{"ok": false, "records": n, "error": err.Error()})
				} else {
					fmtErr("audit log verification failed after %d record(s): %v", n, err)
				}
				osExit(1)
				return
			}
			if jsonOutput {
				outputJSON(map[string]any{"ok": true, "records": n})
				return
			}
			fmt.Printf("%s %d record(s) verified.\n", color.Success("Audit log OK:"), n)
			return
		}

		filter := audit.Filter{RunID: model.RunID(logRun), Action: model.AuditAction(logAction)}
		records, err := audit.Tail(path, logTail, filter)
		if err != nil {
			fmtErr("read audit log: %v", err)
			osExit(1)
			return
		}
		for _, rec := range records {
			printRecord(rec)
		}

		if !logFollow {
			return
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := audit.Follow(ctx, path, filter, printRecord); err != nil {
			fmtErr("follow audit log: %v", err)
			osExit(1)
		}
	},
}

// printRecord writes one record as a JSON line or a summary line.
func printRecord(rec model.AuditRecord) {
	if jsonOutput {
		data, err := json.Marshal(rec)
		if err != nil {
			fmtErr("encode record %d: %v", rec.Seq, err)
			return
		}
		fmt.Println(string(data))
		return
	}
	fmt.Printf("%5d %s %-12s %-10s %s %s\n",
		rec.Seq,
		rec.Timestamp.Local().Format("2006-01-02 15:04:05"),
		rec.Action,
		color.Status(rec.Status),
		color.Dim(shortID(string(rec.RunID))),
		summarizeDetail(rec))
}

// summarizeDetail picks the most telling field of a record's detail.
func summarizeDetail(rec model.AuditRecord) string {
	var d struct {
		Command string `json:"command"`
		Summary string `json:"summary"`
		Task    string `json:"task"`
		Ref     string `json:"ref"`
		Reason  string `json:"reason"`
		Op      string `json:"op"`
	}
	if err := rec.DecodeDetail(&d); err != nil {
		return ""
	}
	for _, s := range []string{d.Command, d.Summary, d.Task, d.Ref, d.Op, d.Reason} {
		if s != "" {
			return s
		}
	}
	return ""
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	logCmd.Flags().IntVarP(&logTail, "tail", "n", 50, "number of records to show")
	logCmd.Flags().BoolVarP(&logFollow, "follow", "f", false, "stream records as they are appended")
	logCmd.Flags().BoolVar(&logVerify, "verify", false, "verify the hash chain")
	logCmd.Flags().StringVar(&logRun, "run", "", "only records of this run")
	logCmd.Flags().StringVar(&logAction, "action", "", "only records with this action")
	rootCmd.AddCommand(logCmd)
}
