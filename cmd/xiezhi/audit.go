package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"xiezhi/internal/audit"
	"xiezhi/pkg/chain"
)

var (
	auditPath    string
	auditSession string
	anchorDir    string
	proofEvent   string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Verify the audit chain and anchored proofs",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute every hash and link of the audit trail",
	Long: `Recompute integrity_hash and previous_hash for each session in the JSONL audit
file and report the first broken event. Exit status 2 means the chain is broken.

Examples:
  xiezhi audit verify
  xiezhi audit verify --path data/audit.jsonl --session sess-1`,
	RunE: runAuditVerify,
}

var auditProofCmd = &cobra.Command{
	Use:   "proof",
	Short: "Check an event's Merkle inclusion proof",
	RunE:  runAuditProof,
}

func init() {
	auditVerifyCmd.Flags().StringVar(&auditPath, "path", "", "audit JSONL file (default: audit.path from config)")
	auditVerifyCmd.Flags().StringVar(&auditSession, "session", "", "verify only this session")
	auditProofCmd.Flags().StringVar(&anchorDir, "anchor-dir", "", "anchor directory (default: audit.anchor.dir from config)")
	auditProofCmd.Flags().StringVar(&proofEvent, "event", "", "event_id")
	_ = auditProofCmd.MarkFlagRequired("event")
	auditCmd.AddCommand(auditVerifyCmd, auditProofCmd)
	rootCmd.AddCommand(auditCmd)
}

type sessionReport struct {
	SessionID string `json:"session_id"`
	Events    int    `json:"events"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path := auditPath
	if path == "" {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.Audit.Path
	}
	store, err := audit.NewJSONLStore(path)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := context.Background()

	sessions := []string{auditSession}
	if auditSession == "" {
		if sessions, err = store.Sessions(ctx); err != nil {
			return err
		}
	}
	var reports []sessionReport
	broken := false
	for _, s := range sessions {
		events, err := store.QueryBySession(ctx, s)
		if err != nil {
			return err
		}
		r := sessionReport{SessionID: s, Events: len(events), OK: true}
		if err := audit.Verify(events); err != nil {
			r.OK, r.Error, broken = false, err.Error(), true
		}
		reports = append(reports, r)
	}
	if output == "json" {
		if err := printJSON(reports); err != nil {
			return err
		}
	} else {
		for _, r := range reports {
			if r.OK {
				color.Green("  ✓ %s: %d events", r.SessionID, r.Events)
			} else {
				color.Red("  ✗ %s: %s", r.SessionID, r.Error)
			}
		}
	}
	if broken {
		return &exitError{code: 2}
	}
	return nil
}

func runAuditProof(cmd *cobra.Command, args []string) error {
	dir := anchorDir
	if dir == "" {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.Audit.Anchor.Enabled {
			return errors.New("audit anchoring is not enabled")
		}
		dir = cfg.Audit.Anchor.Dir
	}
	ledger := chain.NewLedger(chain.NewLocalStoreWithPath(dir))
	p, err := ledger.GetMerkleProof(context.Background(), proofEvent)
	if err != nil {
		return err
	}
	ok := chain.VerifyProof(p)
	if output == "json" {
		return printJSON(map[string]any{"proof": p, "valid": ok})
	}
	fmt.Printf("  event: %s\n  batch: %s\n  root: %s\n", proofEvent, p.BatchID, p.MerkleRoot)
	if !ok {
		color.Red("  ✗ proof does not verify")
		return &exitError{code: 2}
	}
	color.Green("  ✓ inclusion verified")
	return nil
}
