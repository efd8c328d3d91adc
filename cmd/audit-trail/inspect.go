package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/facebookgo/atomicfile"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/yourorg/yourapp/apps/audit/internal/trail"
)

var errVerificationFailed = errors.New("audit chain verification failed")

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify hash linkage and signatures of audit chains",
	RunE:  runVerify,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a chain as a signed json, csv, xml or pdf document",
	RunE:  runExport,
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print audit metrics as JSON",
	RunE:  runMetrics,
}

var (
	verifyChainID string

	exportChainID  string
	exportFormat   string
	exportOut      string
	exportEvidence bool
)

func init() {
	verifyCmd.Flags().StringVar(&verifyChainID, "chain", "", "chain to verify (default: all chains)")

	exportCmd.Flags().StringVar(&exportChainID, "chain", trail.DefaultChainID, "chain to export")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "json, csv, xml or pdf")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default: the export filename)")
	exportCmd.Flags().BoolVar(&exportEvidence, "evidence", true, "include evidence attachments")
}

func runVerify(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ids := []string{verifyChainID}
	if verifyChainID == "" {
		ids = ids[:0]
		for _, c := range a.store.Chains() {
			ids = append(ids, c.ID)
		}
	}
	failed := false
	for _, id := range ids {
		res, err := a.store.VerifyChainIntegrity(cmd.Context(), id)
		if err != nil {
			return err
		}
		statuses, err := a.store.EventStatuses(id, res)
		if err != nil {
			return err
		}
		printVerification(cmd.OutOrStdout(), id, res, statuses)
		failed = failed || !res.IsValid
	}
	if failed {
		return errVerificationFailed
	}
	return nil
}

func printVerification(w io.Writer, chainID string, res trail.VerificationResult, statuses []trail.EventStatus) {
	verdict := color.GreenString("VALID")
	if !res.IsValid {
		verdict = color.RedString("INVALID")
	}
	fmt.Fprintf(w, "%s %s (%d/%d events verified)\n", verdict, chainID, res.VerifiedEvents, res.TotalEvents)
	for _, st := range statuses {
		if st.Status == trail.StatusVerified {
			fmt.Fprintf(w, "  %s #%d %s\n", color.GreenString("✓"), st.Sequence, st.EventID)
			continue
		}
		fmt.Fprintf(w, "  %s #%d %s\n", color.RedString("✗"), st.Sequence, st.EventID)
		for _, f := range st.Findings {
			fmt.Fprintf(w, "      %s [%s]\n", f.Error, f.Severity)
		}
	}
}

func runExport(cmd *cobra.Command, _ []string) error {
	format, err := trail.ParseFormat(exportFormat)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.store.ExportAuditChain(cmd.Context(), exportChainID, format, exportEvidence)
	if err != nil {
		return err
	}
	out := exportOut
	if out == "" {
		out = res.Filename
	}
	if err := writeFileAtomic(out, res.Data); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s, rendered as %s)\n  checksum  %s\n  signature %s\n",
		color.GreenString("wrote"), out, humanize.IBytes(uint64(len(res.Data))), res.RenderedAs,
		res.Integrity.Checksum, res.Integrity.Signature)
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	f, err := atomicfile.New(path, 0o640)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Abort()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func runMetrics(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(a.store.GetAuditMetrics())
}
