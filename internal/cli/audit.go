package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/medrex/medledger/pkg/types"
)

func newAuditCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the access audit trail",
	}
	cmd.AddCommand(newAuditVerifyCommand(opts))
	cmd.AddCommand(newAuditTrailCommand(opts))
	return cmd
}

func newAuditVerifyCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openHost(cmd, opts, false)
			if err != nil {
				return err
			}
			defer h.Close()

			if err := h.svc.VerifyAuditChain(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Audit chain verified: %d entries\n", h.svc.Stats().TotalAuditEntries)
			return nil
		},
	}
}

func newAuditTrailCommand(opts *options) *cobra.Command {
	var (
		accessor  string
		patientID int64
	)

	cmd := &cobra.Command{
		Use:   "trail",
		Short: "List audit entries",
		Example: `  medledger audit trail
  medledger audit trail --patient 1
  medledger audit trail --accessor 0xDOCTOR456 --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if accessor != "" && patientID != 0 {
				return fmt.Errorf("--accessor and --patient are mutually exclusive")
			}

			h, err := openHost(cmd, opts, false)
			if err != nil {
				return err
			}
			defer h.Close()

			var entries []*types.AuditLogEntry
			switch {
			case accessor != "":
				entries = h.svc.AuditByAccessor(accessor)
			case patientID != 0:
				entries = h.svc.AuditByPatient(patientID)
			default:
				entries = h.svc.AuditTrail()
			}

			if opts.output == OutputJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			for _, entry := range entries {
				outcome := "granted"
				if !entry.Success {
					outcome = "denied"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\tpatient=%d\t%s\t%s\t%s\n",
					entry.ID, entry.Timestamp.Format(time.RFC3339), entry.Accessor, entry.PatientID,
					entry.Action, outcome, entry.Details)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&accessor, "accessor", "", "Only entries written for this address")
	cmd.Flags().Int64Var(&patientID, "patient", 0, "Only entries concerning this patient id")
	return cmd
}
