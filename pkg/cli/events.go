package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/contracts"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/eventstream"
)

func newEmitCmd(opts *globalOptions) *cobra.Command {
	var eventJSON, indexesJSON string

	cmd := &cobra.Command{
		Use:   "emit <tenant>",
		Short: "Emit an event for a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var event contracts.MessageEvent
			if err := json.Unmarshal([]byte(eventJSON), &event); err != nil {
				return fmt.Errorf("invalid --event: %w", err)
			}
			indexes := contracts.KeyValues{}
			if indexesJSON != "" {
				if err := json.Unmarshal([]byte(indexesJSON), &indexes); err != nil {
					return fmt.Errorf("invalid --indexes: %w", err)
				}
			}

			if err := opts.client().Emit(cmd.Context(), args[0], event, indexes); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Event emitted for %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&eventJSON, "event", "", "Event as a JSON object (required)")
	cmd.Flags().StringVar(&indexesJSON, "indexes", "", "Indexes as a JSON object")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

func newTailCmd(opts *globalOptions) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "tail <tenant>",
		Short: "Print a tenant's events as they arrive, one JSON object per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			return opts.client().Tail(cmd.Context(), args[0], id, func(env eventstream.Envelope) error {
				return enc.Encode(env)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Subscription id (default: generated by the gateway)")
	return cmd
}
