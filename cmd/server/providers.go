package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"credential-authorizer/internal/provider"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newProvidersCmd() *cobra.Command {
	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect the provider catalog",
	}

	var (
		file    = os.Getenv("PROVIDERS_FILE")
		timeout = 15 * time.Second
	)
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the catalog and resolve every provider's endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required (or set PROVIDERS_FILE)")
			}
			catalog, err := provider.LoadCatalog(file)
			if err != nil {
				return err
			}
			discovery := provider.NewDiscovery(&http.Client{Timeout: timeout}, zap.NewNop())
			return checkProviders(cmd.Context(), cmd.OutOrStdout(), catalog, discovery)
		},
	}
	checkCmd.Flags().StringVar(&file, "file", file, "Provider catalog YAML (env PROVIDERS_FILE)")
	checkCmd.Flags().DurationVar(&timeout, "timeout", timeout, "Timeout for discovery requests")

	providersCmd.AddCommand(checkCmd)
	return providersCmd
}

// checkProviders resolves every catalog entry and reports the endpoints in
// use. It fails if any provider cannot be resolved.
func checkProviders(ctx context.Context, out io.Writer, catalog *provider.Catalog, discovery *provider.Discovery) error {
	if ctx == nil {
		ctx = context.Background()
	}

	failed := 0
	for _, id := range catalog.IDs() {
		cfg, err := catalog.ProviderConfig(ctx, id)
		if err == nil {
			cfg, err = discovery.Resolve(ctx, cfg)
		}
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s\tFAIL\t%v\n", id, err)
			continue
		}
		userinfo := cfg.UserinfoEndpoint
		if userinfo == "" {
			userinfo = "-"
		}
		fmt.Fprintf(out, "%s\tok\tauthorize=%s token=%s userinfo=%s\n",
			id, cfg.AuthorizationEndpoint, cfg.TokenEndpoint, userinfo)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d providers failed", failed, len(catalog.IDs()))
	}
	return nil
}
