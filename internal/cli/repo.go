package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/repositories/config"
	"github.com/git-pkgs/repositories/internal/core"
)

func newRepoCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage repositories",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.loadSettings(cmd); err != nil {
				return err
			}
			return a.open(cmd.Context())
		},
	}
	cmd.AddCommand(
		newRepoListCmd(a),
		newRepoAddManagedCmd(a),
		newRepoAddRemoteCmd(a),
		newRepoAddGroupCmd(a),
		newRepoRemoveCmd(a),
		newRepoCloneCmd(a),
	)
	return cmd
}

func newRepoListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "ID\tKIND\tTYPE\tSTATE\tDETAIL\n")
			for _, repo := range a.reg.Repositories() {
				h := describe(repo)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", h.ID, h.Kind, h.Type, h.State, h.Detail)
			}
			return w.Flush()
		},
	}
}

func newRepoAddManagedCmd(a *app) *cobra.Command {
	cfg := &config.ManagedRepositoryConfiguration{}
	cmd := &cobra.Command{
		Use:   "add-managed ID",
		Short: "Add or update a managed repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.ID = args[0]
			repo, err := a.reg.PutManagedConfig(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "managed repository %s at %s\n", repo.ID(), repo.Location())
			if cfg.StageRepoNeeded {
				fmt.Fprintf(cmd.OutOrStdout(), "staging repository %s\n", core.StagingID(repo.ID()))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Name, "name", "", "display name")
	f.StringVar(&cfg.Description, "description", "", "description")
	f.StringVar(&cfg.Location, "location", "", "storage location (default <data-dir>/<id>)")
	f.StringVar(&cfg.Type, "type", config.DefaultRepositoryType, "repository type")
	f.BoolVar(&cfg.Releases, "releases", true, "accept release versions")
	f.BoolVar(&cfg.Snapshots, "snapshots", false, "accept snapshot versions")
	f.BoolVar(&cfg.BlockRedeployments, "block-redeployments", false, "reject redeploying a release")
	f.BoolVar(&cfg.StageRepoNeeded, "stage", false, "create a staging repository")
	f.BoolVar(&cfg.Scanned, "scanned", false, "include in repository scans")
	f.StringVar(&cfg.RefreshCronExpression, "schedule", "", "scan schedule as a cron expression")
	f.IntVar(&cfg.RetentionPeriod, "retention-days", 0, "snapshot retention in days")
	f.IntVar(&cfg.RetentionCount, "retention-count", 0, "snapshots to retain")
	return cmd
}

func newRepoAddRemoteCmd(a *app) *cobra.Command {
	cfg := &config.RemoteRepositoryConfiguration{}
	var headers map[string]string
	cmd := &cobra.Command{
		Use:   "add-remote ID URL",
		Short: "Add or update a remote repository",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.ID, cfg.URL = args[0], args[1]
			cfg.ExtraHeaders = headers
			repo, err := a.reg.PutRemoteConfig(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "remote repository %s for %s\n", repo.ID(), repo.Remote().URL)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Name, "name", "", "display name")
	f.StringVar(&cfg.Type, "type", config.DefaultRepositoryType, "repository type")
	f.StringVar(&cfg.Username, "username", "", "user for the remote")
	f.StringVar(&cfg.Password, "password", "", "password for the remote")
	f.IntVar(&cfg.TimeoutSeconds, "timeout", 0, "request timeout in seconds")
	f.StringVar(&cfg.CheckPath, "check-path", "", "path requested to check availability")
	f.StringToStringVar(&headers, "header", nil, "extra request header as name=value")
	return cmd
}

func newRepoAddGroupCmd(a *app) *cobra.Command {
	cfg := &config.RepositoryGroupConfiguration{}
	cmd := &cobra.Command{
		Use:   "add-group ID",
		Short: "Add or update a repository group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.ID = args[0]
			repo, err := a.reg.PutGroupConfig(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "group %s with %d members\n", repo.ID(), len(repo.Members()))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Name, "name", "", "display name")
	f.StringVar(&cfg.Type, "type", config.DefaultRepositoryType, "repository type")
	f.StringSliceVar(&cfg.Repositories, "member", nil, "member managed repository, in order")
	f.IntVar(&cfg.MergedIndexTTL, "ttl", 0, "merged index lifetime in minutes")
	f.StringVar(&cfg.MergedIndexPath, "index-path", "", "merged index directory")
	f.StringVar(&cfg.CronExpression, "schedule", "", "merged index schedule as a cron expression")
	return cmd
}

func newRepoRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Remove a repository",
		Long: `Remove a repository from the configuration. Removing a managed
repository also removes its staging repository, its group memberships and
the proxy connectors that use it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.reg.HasRepository(args[0]) {
				return &core.NotFoundError{ID: args[0]}
			}
			if err := a.reg.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func newRepoCloneCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clone SOURCE ID",
		Short: "Copy the settings of a repository to a new one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := a.reg.Get(args[0])
			if src == nil {
				return &core.NotFoundError{ID: args[0]}
			}
			clone, err := a.reg.Clone(src, args[1])
			if err != nil {
				return err
			}
			var put *core.Repository
			switch clone.Kind() {
			case core.KindManaged:
				put, err = a.reg.PutManaged(cmd.Context(), clone)
			case core.KindRemote:
				put, err = a.reg.PutRemote(cmd.Context(), clone)
			default:
				put, err = a.reg.PutGroup(cmd.Context(), clone)
			}
			if err != nil {
				_ = clone.Close()
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cloned %s to %s\n", src.ID(), put.ID())
			return nil
		},
	}
}
