package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/repositories/fetch"
	"github.com/git-pkgs/repositories/internal/core"
)

// HealthStatus summarizes the state of the manager.
type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusDegraded HealthStatus = "degraded"
)

// RepositoryHealth is one repository in a health report. Reachable is only
// set for remote repositories that were checked.
type RepositoryHealth struct {
	ID        string    `json:"id"`
	Kind      core.Kind `json:"kind"`
	Type      string    `json:"type"`
	State     string    `json:"state"`
	Detail    string    `json:"detail,omitempty"`
	Facts     int       `json:"facts,omitempty"`
	Reachable *bool     `json:"reachable,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// HealthReport is returned by the health command and endpoint.
type HealthReport struct {
	Status       HealthStatus       `json:"status"`
	Repositories []RepositoryHealth `json:"repositories"`
	Breakers     map[string]string  `json:"breakers,omitempty"`
}

func newHealthCmd(a *app) *cobra.Command {
	var asJSON, reach bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show repository states and recorded problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			if err := a.openFacts(); err != nil {
				return err
			}
			report, err := a.health(ctx, reach)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return printHealth(cmd, report)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().BoolVar(&reach, "check", false, "request the check path of remote repositories")
	return cmd
}

func (a *app) health(ctx context.Context, reach bool) (*HealthReport, error) {
	report := &HealthReport{
		Status:       HealthStatusHealthy,
		Repositories: []RepositoryHealth{},
		Breakers:     a.transport.Breakers().State(),
	}
	for _, repo := range a.reg.Repositories() {
		h := describe(repo)
		if repo.Kind() == core.KindManaged && a.facts != nil {
			facts, err := a.facts.Facts(ctx, repo.ID())
			if err != nil {
				return nil, err
			}
			h.Facts = len(facts)
		}
		if repo.Kind() == core.KindRemote && reach {
			err := a.check(ctx, repo)
			ok := err == nil
			h.Reachable = &ok
			if err != nil {
				h.Error = err.Error()
				report.Status = HealthStatusDegraded
			}
		}
		if !repo.IsOpen() {
			report.Status = HealthStatusDegraded
		}
		report.Repositories = append(report.Repositories, h)
	}
	// Checks may have changed breaker states.
	if reach {
		report.Breakers = a.transport.Breakers().State()
	}
	for _, state := range report.Breakers {
		if state == "open" {
			report.Status = HealthStatusDegraded
		}
	}
	return report, nil
}

// check connects to a remote repository the way resolution does and requests
// its check path.
func (a *app) check(ctx context.Context, repo *core.Repository) error {
	rs := repo.Remote()
	src := fetch.Source{
		ID:        repo.ID(),
		URL:       rs.URL,
		Timeout:   rs.Timeout,
		Headers:   rs.ExtraHeaders,
		Params:    rs.ExtraParameters,
		CheckPath: rs.CheckPath,
	}
	var creds *fetch.Credentials
	if rs.Username != "" {
		creds = &fetch.Credentials{Username: rs.Username, Password: rs.Password}
	}
	sess, err := a.transport.Connect(ctx, src, creds, nil)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Disconnect() }()
	return sess.Check(ctx)
}

func describe(repo *core.Repository) RepositoryHealth {
	h := RepositoryHealth{
		ID:    repo.ID(),
		Kind:  repo.Kind(),
		Type:  repo.Type(),
		State: repo.State().String(),
	}
	switch repo.Kind() {
	case core.KindManaged:
		h.Detail = repo.Location()
	case core.KindRemote:
		h.Detail = repo.Remote().URL
	case core.KindGroup:
		h.Detail = strings.Join(repo.Members(), ",")
	}
	return h
}

func printHealth(cmd *cobra.Command, report *HealthReport) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tKIND\tSTATE\tFACTS\tDETAIL\n")
	for _, r := range report.Repositories {
		state := r.State
		if r.Reachable != nil && !*r.Reachable {
			state += " (unreachable)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.Kind, state, r.Facts, r.Detail)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, host := range sortedKeys(report.Breakers) {
		fmt.Fprintf(cmd.OutOrStdout(), "breaker %s: %s\n", host, report.Breakers[host])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "status: %s\n", report.Status)
	return nil
}
