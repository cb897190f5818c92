package resolve

import (
	"time"

	"github.com/git-pkgs/repositories/config"
	"github.com/git-pkgs/repositories/fetch"
	"github.com/git-pkgs/repositories/internal/core"
)

// Remote is one entry of a resolution chain.
type Remote struct {
	Source      fetch.Source
	Credentials *fetch.Credentials
	Proxy       *fetch.Proxy
}

// SourcesFor builds the resolution chain of a managed repository from its
// enabled proxy connectors, ordered by connector order and then target id.
// Connectors whose target is not a registered remote repository are skipped.
func SourcesFor(cfg *config.Configuration, lookup func(id string) *core.Repository, managedID string) []Remote {
	var out []Remote
	for _, pc := range cfg.ProxyConnectorsFrom(managedID) {
		repo := lookup(pc.TargetRepoID)
		if repo == nil || repo.Kind() != core.KindRemote {
			continue
		}
		rs := repo.Remote()
		remote := Remote{
			Source: fetch.Source{
				ID:      repo.ID(),
				URL:     rs.URL,
				Timeout: rs.Timeout,
				Headers: rs.ExtraHeaders,
				Params:  rs.ExtraParameters,

				CheckPath: rs.CheckPath,
			},
		}
		if rs.Username != "" {
			remote.Credentials = &fetch.Credentials{Username: rs.Username, Password: rs.Password}
		}
		if np := cfg.NetworkProxy(pc.ProxyID); pc.ProxyID != "" && np != nil {
			remote.Proxy = &fetch.Proxy{
				Protocol: np.Protocol,
				Host:     np.Host,
				Port:     np.Port,
				Username: np.Username,
				Password: np.Password,
			}
		}
		out = append(out, remote)
	}
	return out
}

// StaticSource returns a chain entry for a plain URL.
func StaticSource(id, url string, timeout time.Duration) Remote {
	return Remote{Source: fetch.Source{ID: id, URL: url, Timeout: timeout}}
}
