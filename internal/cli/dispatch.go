package cli

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Priya8975/restock-notifier/internal/domain"
	"github.com/spf13/cobra"
)

// DispatchOptions holds flags for the dispatch command.
type DispatchOptions struct {
	*RootOptions
	Shop      string
	VariantID string
}

// NewDispatchCommand creates the dispatch command.
func NewDispatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DispatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Notify the pending subscribers of one variant now",
		Long: `Run one dispatch synchronously, as if a restock webhook had arrived for the
variant, and print the dispatch report as JSON.

Example:
  restock dispatch --shop demo.myshopify.com --variant 39072856`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Shop, "shop", "", "shop domain (required)")
	cmd.Flags().StringVar(&opts.VariantID, "variant", "", "variant id (required)")
	_ = cmd.MarkFlagRequired("shop")
	_ = cmd.MarkFlagRequired("variant")

	return cmd
}

func runDispatch(cmd *cobra.Command, opts *DispatchOptions) error {
	logger := opts.logger()
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.dispatcher.Dispatch(ctx, domain.RestockEvent{
		Shop:      strings.ToLower(strings.TrimSpace(opts.Shop)),
		VariantID: strings.TrimSpace(opts.VariantID),
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
