package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/repositories/config"
	"github.com/git-pkgs/repositories/internal/core"
)

func newConnectorCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connector",
		Short: "Manage proxy connectors from managed to remote repositories",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.loadSettings(cmd); err != nil {
				return err
			}
			return a.open(cmd.Context())
		},
	}
	cmd.AddCommand(newConnectorAddCmd(a), newConnectorListCmd(a))
	return cmd
}

func newConnectorAddCmd(a *app) *cobra.Command {
	pc := &config.ProxyConnectorConfiguration{}
	cmd := &cobra.Command{
		Use:   "add SOURCE TARGET",
		Short: "Let a managed repository fetch from a remote repository",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pc.SourceRepoID, pc.TargetRepoID = args[0], args[1]
			if a.reg.Managed(pc.SourceRepoID) == nil {
				return &core.NotFoundError{Kind: core.KindManaged, ID: pc.SourceRepoID}
			}
			if a.reg.Remote(pc.TargetRepoID) == nil {
				return &core.NotFoundError{Kind: core.KindRemote, ID: pc.TargetRepoID}
			}
			err := a.saveConfiguration(cmd.Context(), func(cfg *config.Configuration) error {
				if pc.ProxyID != "" && cfg.NetworkProxy(pc.ProxyID) == nil {
					return fmt.Errorf("network proxy %s not found", pc.ProxyID)
				}
				cfg.PutProxyConnector(pc)
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "connector %s -> %s (order %d)\n", pc.SourceRepoID, pc.TargetRepoID, pc.Order)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&pc.Order, "order", 0, "position in the resolution chain")
	f.StringVar(&pc.ProxyID, "proxy", "", "network proxy id")
	f.BoolVar(&pc.Disabled, "disabled", false, "add the connector disabled")
	return cmd
}

func newConnectorListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list SOURCE",
		Short: "Show the resolution chain of a managed repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "ORDER\tTARGET\tURL\tPROXY\n")
			for _, pc := range a.reg.Configuration().ProxyConnectorsFrom(args[0]) {
				url := ""
				if r := a.reg.Remote(pc.TargetRepoID); r != nil {
					url = r.Remote().URL
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", pc.Order, pc.TargetRepoID, url, pc.ProxyID)
			}
			return w.Flush()
		},
	}
}
