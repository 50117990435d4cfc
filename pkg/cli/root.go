// Package cli implements the dwnctl commands against a dwnd gateway.
package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/config"
)

type globalOptions struct {
	gatewayURL string
	timeout    time.Duration
}

func (o *globalOptions) client() *Client {
	return NewClient(o.gatewayURL, o.timeout)
}

func defaultGatewayURL() string {
	if v := os.Getenv(config.EnvGatewayURL); v != "" {
		return v
	}
	return config.DefaultGatewayURL
}

// NewRootCmd builds the dwnctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "dwnctl",
		Short:         "Emit and tail DWN events and manage stored blobs",
		Long:          "dwnctl talks to a dwnd gateway. The gateway URL comes from --gateway or " + config.EnvGatewayURL + ".",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.gatewayURL, "gateway", defaultGatewayURL(), "Gateway base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")

	root.AddCommand(newEmitCmd(opts), newTailCmd(opts), newBlobCmd(opts))
	return root
}
