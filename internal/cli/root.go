// Package cli implements the repoman command line.
package cli

import (
	"context"
	"errors"
	"io"

	"github.com/spf13/cobra"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "repoman",
		Short: "Artifact repository manager",
		Long: `repoman manages managed, remote and group artifact repositories and
resolves project models through a pull-through cache.

Settings are read from repoman.yaml in the working directory, from
REPOMAN_* environment variables and from flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadSettings(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.settingsFile, "settings", "", "settings file")
	flags.String("data-dir", "", "directory holding repository data")
	flags.String("config", "", "repository configuration file (default <data-dir>/repositories.yaml)")
	flags.String("facts-db", "", "diagnostics database (default <data-dir>/facts.db)")
	flags.Int("log-level", 0, "log verbosity")

	root.AddCommand(
		newServeCmd(a),
		newRepoCmd(a),
		newConnectorCmd(a),
		newResolveCmd(a),
		newHealthCmd(a),
	)
	return root
}

// ExecuteContext runs the command line with ctx and releases everything the
// command opened before returning.
func ExecuteContext(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, a.close())
}
