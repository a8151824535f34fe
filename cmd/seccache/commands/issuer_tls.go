package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultmesh/seccache/internal/config"
	"github.com/vaultmesh/seccache/internal/secretsys"
)

// redactedTreeKeys are the certificate-view keys whose values are secret
// material, printed as presence markers rather than raw bytes.
var redactedTreeKeys = map[string]bool{
	"certificate": true,
	"privatekey":  true,
	"verify/ca_certificates/pem": true,
}

// NewIssuerTLSCommand builds "seccache issuer-tls <issuer>".
func NewIssuerTLSCommand(cfg *config.Config) *cobra.Command {
	var (
		trustedPeers    string
		trustedPeersSet bool
		disableMTLS     bool
	)

	cmd := &cobra.Command{
		Use:   "issuer-tls <issuer>",
		Short: "Show the resolved mTLS configuration for a certificate issuer",
		Long: `Resolves the certificates/<issuer> secret and derives the TLS
config tree a service would install for it, printing which fields are
present without leaking certificate or key material.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issuer := args[0]

			peers := ""
			if trustedPeersSet {
				peers = trustedPeers
			}

			view, err := secretsys.IssuerTLSView(issuer, peers, disableMTLS)
			if err != nil {
				return err
			}
			if view == nil {
				fmt.Printf("issuer %q: no configuration\n", issuer)
				return nil
			}

			if !view.IsValid() {
				fmt.Printf("issuer %q: not yet resolvable (secret not found)\n", issuer)
				return nil
			}

			tree := view.GetTree()
			fmt.Printf("issuer %q (version %d):\n", issuer, view.GetVersion())
			for key, value := range tree {
				if redactedTreeKeys[key] {
					fmt.Printf("  %s: [present, %d bytes]\n", key, len(value))
					continue
				}
				fmt.Printf("  %s: %s\n", key, string(value))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&trustedPeers, "trusted-peers", "", "Override the trusted peers list installed for this issuer")
	cmd.Flags().BoolVar(&disableMTLS, "disable-mtls", false, "Resolve as if mTLS verification were disabled for this issuer")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		trustedPeersSet = cmd.Flags().Changed("trusted-peers")
	}

	return cmd
}
