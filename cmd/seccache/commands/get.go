package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaultmesh/seccache/internal/config"
	dserrors "github.com/vaultmesh/seccache/internal/errors"
	"github.com/vaultmesh/seccache/internal/secretsys"
)

// NewGetCommand builds "seccache get <category> <name> [key]".
func NewGetCommand(cfg *config.Config) *cobra.Command {
	var (
		vaultID    string
		version    string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "get <category> <name> [key]",
		Short: "Resolve and print a secret's contents",
		Long: `Resolve category/name from the local secret mount or a configured
vault, following the same local-then-vault fallback GetSecretEntry uses.

Examples:
  seccache get system db-credentials
  seccache get system db-credentials password
  seccache get certificates myesp tls.crt --vault pki`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			category, name := args[0], args[1]
			var key string
			if len(args) == 3 {
				key = args[2]
			}

			// A single required key with no vault/version override maps
			// directly onto the library's GetSecretValue operation.
			if key != "" && vaultID == "" && version == "" {
				value, err := secretsys.GetSecretValue(category, name, key, true)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(map[string]string{"category": category, "name": name, "key": key, "value": string(value)})
				}
				fmt.Print(string(value))
				return nil
			}

			entry, err := secretsys.Cache().GetSecretEntry(category, name, vaultID, version, secretsys.Resolver())
			if err != nil {
				return err
			}

			contents := secretsys.Cache().GetContents(entry)
			if contents == nil {
				return dserrors.NotFoundError{Category: category, Name: name}
			}

			if key != "" {
				value, ok := contents.Bytes(key)
				if !ok {
					return dserrors.NotFoundError{Category: category, Name: name, Key: key}
				}
				if jsonOutput {
					return printJSON(map[string]string{"category": category, "name": name, "key": key, "value": string(value)})
				}
				fmt.Print(string(value))
				return nil
			}

			if jsonOutput {
				out := make(map[string]string, len(contents))
				for k, v := range contents {
					out[k] = string(v)
				}
				return printJSON(out)
			}
			for k, v := range contents {
				fmt.Printf("%s=%s\n", k, string(v))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&vaultID, "vault", "", "Resolve from a specific vault only, skipping the local mount and fallback")
	cmd.Flags().StringVar(&version, "version", "", "Secret version to request from a vault")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
