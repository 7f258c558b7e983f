package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/medrex/medledger/internal/ledger"
	"github.com/medrex/medledger/pkg/config"
	"github.com/medrex/medledger/pkg/logger"
	"github.com/medrex/medledger/pkg/monitoring"
	"github.com/medrex/medledger/pkg/state"
	"github.com/medrex/medledger/pkg/types"
)

// Output formats
const (
	OutputPlain = "plain"
	OutputJSON  = "json"
)

// options are shared by every subcommand
type options struct {
	configPath string
	output     string
}

// NewRootCommand builds the medledger command tree
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "medledger",
		Short: "Medical record authorization ledger",
		Long: "A command-line host for the medical ledger: identity registry, permission engine, " +
			"record store and audit log over a local state backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a config file (default ./config.yaml)")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", OutputPlain, "Output format: plain|json")

	root.AddCommand(newSimulateCommand(opts))
	root.AddCommand(newStatsCommand(opts))
	root.AddCommand(newAuditCommand(opts))
	root.AddCommand(newCheckCommand(opts))

	return root
}

// host bundles an opened ledger with the pieces it was built from
type host struct {
	cfg      *config.Config
	log      *logger.Logger
	registry *prometheus.Registry
	svc      *ledger.Service
}

func (h *host) Close() error {
	return h.svc.Close()
}

// openHost loads configuration and opens the configured backend. When
// inMemory is set the configured driver is ignored.
func openHost(cmd *cobra.Command, opts *options, inMemory bool) (*host, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.output != OutputPlain && opts.output != OutputJSON {
		return nil, fmt.Errorf("unknown output format: %q", opts.output)
	}

	log := logger.NewWithOutput(cfg.LogLevel, cmd.ErrOrStderr())

	var backend state.Backend
	switch {
	case inMemory || cfg.Storage.Driver == config.DriverMemory:
		backend = state.NewMemoryBackend()
	case cfg.Storage.Driver == config.DriverLevelDB:
		db, err := state.NewLevelDB(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		backend = db
	}

	h := &host{cfg: cfg, log: log}

	var metrics *monitoring.LedgerMetrics
	if cfg.Metrics.Enabled {
		h.registry = prometheus.NewRegistry()
		metrics = monitoring.NewLedgerMetrics(h.registry, cfg.Metrics.Namespace)
	}

	h.svc, err = ledger.Open(ledger.Options{
		Backend: backend,
		Logger:  log,
		Metrics: metrics,
	})
	if err != nil {
		backend.Close()
		return nil, err
	}

	if h.svc.Stats().TotalUsers == 0 {
		admin, err := h.svc.Bootstrap(cfg.Bootstrap.AdminAddress, cfg.Bootstrap.PublicKey, cfg.Bootstrap.ProfessionalID)
		if err != nil {
			h.Close()
			return nil, err
		}
		log.WithComponent("cli").WithField("admin", admin.Address).Info("Bootstrapped empty ledger")
	}

	return h, nil
}

func writeJSON(out io.Writer, value interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func printStats(out io.Writer, stats types.LedgerStats) {
	fmt.Fprintf(out, "Users: %d (%d active)\n", stats.TotalUsers, stats.ActiveUsers)
	fmt.Fprintf(out, "Patients: %d\n", stats.TotalPatients)
	fmt.Fprintf(out, "Permissions: %d (%d active)\n", stats.TotalPermissions, stats.ActivePermissions)
	fmt.Fprintf(out, "Records: %d (%d emergency)\n", stats.TotalRecords, stats.EmergencyRecords)
	for _, status := range []types.RecordStatus{types.StatusDraft, types.StatusFinalized, types.StatusAmended, types.StatusCancelled} {
		fmt.Fprintf(out, "  %s: %d\n", status, stats.RecordsByStatus[status.String()])
	}
	fmt.Fprintf(out, "Amendments: %d\n", stats.TotalAmendments)
	fmt.Fprintf(out, "Signatures: %d\n", stats.TotalSignatures)
	fmt.Fprintf(out, "Audit entries: %d\n", stats.TotalAuditEntries)
}
