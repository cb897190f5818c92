// Package config holds the persisted repository configuration and the stores
// that read and write it.
//
// A Configuration is a plain data snapshot. Stores hand out deep copies, so a
// caller may mutate the snapshot freely and only the final Save makes the
// change visible to anyone else.
package config

import (
	"sort"
)

// Default values applied to repository groups when the configuration leaves
// them unset.
const (
	DefaultMergedIndexTTL      = 300
	DefaultMergedIndexPath     = ".indexer"
	DefaultMergedIndexSchedule = "0 0 0 ? * SUN"
	DefaultIndexPath           = ".indexer"
	DefaultPackedIndexPath     = ".indexer"
	DefaultScanningSchedule    = "0 0 * * * ?"
	DefaultRepositoryType      = "maven"
	DefaultLayout              = "default"
)

// Configuration is the serialized form of every repository plus the proxy
// connectors and network proxies that tie them together.
type Configuration struct {
	ManagedRepositories []*ManagedRepositoryConfiguration `yaml:"managedRepositories,omitempty"`
	RemoteRepositories  []*RemoteRepositoryConfiguration  `yaml:"remoteRepositories,omitempty"`
	RepositoryGroups    []*RepositoryGroupConfiguration   `yaml:"repositoryGroups,omitempty"`
	ProxyConnectors     []*ProxyConnectorConfiguration    `yaml:"proxyConnectors,omitempty"`
	NetworkProxies      []*NetworkProxyConfiguration      `yaml:"networkProxies,omitempty"`
}

// ManagedRepositoryConfiguration describes a locally stored repository.
type ManagedRepositoryConfiguration struct {
	ID                      string `yaml:"id"`
	Type                    string `yaml:"type,omitempty"`
	Name                    string `yaml:"name,omitempty"`
	Description             string `yaml:"description,omitempty"`
	Location                string `yaml:"location,omitempty"`
	Layout                  string `yaml:"layout,omitempty"`
	Releases                bool   `yaml:"releases"`
	Snapshots               bool   `yaml:"snapshots"`
	BlockRedeployments      bool   `yaml:"blockRedeployments"`
	Scanned                 bool   `yaml:"scanned"`
	RefreshCronExpression   string `yaml:"refreshCronExpression,omitempty"`
	IndexDir                string `yaml:"indexDir,omitempty"`
	PackedIndexDir          string `yaml:"packedIndexDir,omitempty"`
	SkipPackedIndexCreation bool   `yaml:"skipPackedIndexCreation"`
	RetentionPeriod         int    `yaml:"retentionPeriod,omitempty"`
	RetentionCount          int    `yaml:"retentionCount,omitempty"`
	DeleteReleasedSnapshots bool   `yaml:"deleteReleasedSnapshots"`
	StageRepoNeeded         bool   `yaml:"stageRepoNeeded"`
}

// RemoteRepositoryConfiguration describes an externally hosted repository.
type RemoteRepositoryConfiguration struct {
	ID                           string            `yaml:"id"`
	Type                         string            `yaml:"type,omitempty"`
	Name                         string            `yaml:"name,omitempty"`
	Description                  string            `yaml:"description,omitempty"`
	Location                     string            `yaml:"location,omitempty"`
	Layout                       string            `yaml:"layout,omitempty"`
	URL                          string            `yaml:"url"`
	Username                     string            `yaml:"username,omitempty"`
	Password                     string            `yaml:"password,omitempty"`
	TimeoutSeconds               int               `yaml:"timeout,omitempty"`
	CheckPath                    string            `yaml:"checkPath,omitempty"`
	ExtraHeaders                 map[string]string `yaml:"extraHeaders,omitempty"`
	ExtraParameters              map[string]string `yaml:"extraParameters,omitempty"`
	RefreshCronExpression        string            `yaml:"refreshCronExpression,omitempty"`
	DownloadRemoteIndex          bool              `yaml:"downloadRemoteIndex"`
	RemoteIndexURL               string            `yaml:"remoteIndexUrl,omitempty"`
	RemoteDownloadNetworkProxyID string            `yaml:"remoteDownloadNetworkProxyId,omitempty"`
	RemoteDownloadTimeout        int               `yaml:"remoteDownloadTimeout,omitempty"`
	DownloadRemoteIndexOnStartup bool              `yaml:"downloadRemoteIndexOnStartup"`
	IndexDir                     string            `yaml:"indexDir,omitempty"`
	PackedIndexDir               string            `yaml:"packedIndexDir,omitempty"`
}

// RepositoryGroupConfiguration describes a virtual aggregate of managed
// repositories.
type RepositoryGroupConfiguration struct {
	ID              string   `yaml:"id"`
	Type            string   `yaml:"type,omitempty"`
	Name            string   `yaml:"name,omitempty"`
	Description     string   `yaml:"description,omitempty"`
	Location        string   `yaml:"location,omitempty"`
	Repositories    []string `yaml:"repositories,omitempty"`
	MergedIndexPath string   `yaml:"mergedIndexPath,omitempty"`
	MergedIndexTTL  int      `yaml:"mergedIndexTtl,omitempty"`
	CronExpression  string   `yaml:"cronExpression,omitempty"`
}

// ProxyConnectorConfiguration directs a managed repository to a remote one.
// Connectors for the same source are tried in ascending Order.
type ProxyConnectorConfiguration struct {
	SourceRepoID string            `yaml:"sourceRepoId"`
	TargetRepoID string            `yaml:"targetRepoId"`
	ProxyID      string            `yaml:"proxyId,omitempty"`
	Order        int               `yaml:"order"`
	Disabled     bool              `yaml:"disabled"`
	Policies     map[string]string `yaml:"policies,omitempty"`
}

// NetworkProxyConfiguration is an HTTP proxy used to reach remote repositories.
type NetworkProxyConfiguration struct {
	ID       string `yaml:"id"`
	Protocol string `yaml:"protocol,omitempty"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// ManagedRepository returns the configuration for id, or nil.
func (c *Configuration) ManagedRepository(id string) *ManagedRepositoryConfiguration {
	for _, r := range c.ManagedRepositories {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// PutManagedRepository replaces the entry with the same id, or appends it.
func (c *Configuration) PutManagedRepository(cfg *ManagedRepositoryConfiguration) {
	for i, r := range c.ManagedRepositories {
		if r.ID == cfg.ID {
			c.ManagedRepositories[i] = cfg
			return
		}
	}
	c.ManagedRepositories = append(c.ManagedRepositories, cfg)
}

// RemoveManagedRepository deletes the entry for id and reports whether it
// existed.
func (c *Configuration) RemoveManagedRepository(id string) bool {
	for i, r := range c.ManagedRepositories {
		if r.ID == id {
			c.ManagedRepositories = append(c.ManagedRepositories[:i], c.ManagedRepositories[i+1:]...)
			return true
		}
	}
	return false
}

// RemoteRepository returns the configuration for id, or nil.
func (c *Configuration) RemoteRepository(id string) *RemoteRepositoryConfiguration {
	for _, r := range c.RemoteRepositories {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// PutRemoteRepository replaces the entry with the same id, or appends it.
func (c *Configuration) PutRemoteRepository(cfg *RemoteRepositoryConfiguration) {
	for i, r := range c.RemoteRepositories {
		if r.ID == cfg.ID {
			c.RemoteRepositories[i] = cfg
			return
		}
	}
	c.RemoteRepositories = append(c.RemoteRepositories, cfg)
}

// RemoveRemoteRepository deletes the entry for id and reports whether it
// existed.
func (c *Configuration) RemoveRemoteRepository(id string) bool {
	for i, r := range c.RemoteRepositories {
		if r.ID == id {
			c.RemoteRepositories = append(c.RemoteRepositories[:i], c.RemoteRepositories[i+1:]...)
			return true
		}
	}
	return false
}

// RepositoryGroup returns the configuration for id, or nil.
func (c *Configuration) RepositoryGroup(id string) *RepositoryGroupConfiguration {
	for _, g := range c.RepositoryGroups {
		if g.ID == id {
			return g
		}
	}
	return nil
}

// PutRepositoryGroup replaces the entry with the same id, or appends it.
func (c *Configuration) PutRepositoryGroup(cfg *RepositoryGroupConfiguration) {
	for i, g := range c.RepositoryGroups {
		if g.ID == cfg.ID {
			c.RepositoryGroups[i] = cfg
			return
		}
	}
	c.RepositoryGroups = append(c.RepositoryGroups, cfg)
}

// RemoveRepositoryGroup deletes the entry for id and reports whether it
// existed.
func (c *Configuration) RemoveRepositoryGroup(id string) bool {
	for i, g := range c.RepositoryGroups {
		if g.ID == id {
			c.RepositoryGroups = append(c.RepositoryGroups[:i], c.RepositoryGroups[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveGroupMember drops repoID from every group and returns the ids of the
// groups that referenced it.
func (c *Configuration) RemoveGroupMember(repoID string) []string {
	var touched []string
	for _, g := range c.RepositoryGroups {
		kept := g.Repositories[:0]
		found := false
		for _, m := range g.Repositories {
			if m == repoID {
				found = true
				continue
			}
			kept = append(kept, m)
		}
		g.Repositories = kept
		if found {
			touched = append(touched, g.ID)
		}
	}
	return touched
}

// ProxyConnectorsFrom returns the enabled connectors whose source is
// sourceID, ordered by Order and then by target id.
func (c *Configuration) ProxyConnectorsFrom(sourceID string) []*ProxyConnectorConfiguration {
	var out []*ProxyConnectorConfiguration
	for _, pc := range c.ProxyConnectors {
		if pc.SourceRepoID == sourceID && !pc.Disabled {
			out = append(out, pc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].TargetRepoID < out[j].TargetRepoID
	})
	return out
}

// PutProxyConnector replaces the connector with the same source and target,
// or appends it.
func (c *Configuration) PutProxyConnector(cfg *ProxyConnectorConfiguration) {
	for i, pc := range c.ProxyConnectors {
		if pc.SourceRepoID == cfg.SourceRepoID && pc.TargetRepoID == cfg.TargetRepoID {
			c.ProxyConnectors[i] = cfg
			return
		}
	}
	c.ProxyConnectors = append(c.ProxyConnectors, cfg)
}

// RemoveProxyConnectorsFor deletes every connector that has repoID as source
// or target and returns how many were removed.
func (c *Configuration) RemoveProxyConnectorsFor(repoID string) int {
	kept := c.ProxyConnectors[:0]
	removed := 0
	for _, pc := range c.ProxyConnectors {
		if pc.SourceRepoID == repoID || pc.TargetRepoID == repoID {
			removed++
			continue
		}
		kept = append(kept, pc)
	}
	c.ProxyConnectors = kept
	return removed
}

// NetworkProxy returns the proxy for id, or nil.
func (c *Configuration) NetworkProxy(id string) *NetworkProxyConfiguration {
	for _, p := range c.NetworkProxies {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Copy returns a deep copy of the configuration.
func (c *Configuration) Copy() *Configuration {
	if c == nil {
		return &Configuration{}
	}
	res := &Configuration{}
	for _, r := range c.ManagedRepositories {
		res.ManagedRepositories = append(res.ManagedRepositories, r.Copy())
	}
	for _, r := range c.RemoteRepositories {
		res.RemoteRepositories = append(res.RemoteRepositories, r.Copy())
	}
	for _, g := range c.RepositoryGroups {
		res.RepositoryGroups = append(res.RepositoryGroups, g.Copy())
	}
	for _, pc := range c.ProxyConnectors {
		res.ProxyConnectors = append(res.ProxyConnectors, pc.Copy())
	}
	for _, p := range c.NetworkProxies {
		cp := *p
		res.NetworkProxies = append(res.NetworkProxies, &cp)
	}
	return res
}

// Copy returns a deep copy.
func (m *ManagedRepositoryConfiguration) Copy() *ManagedRepositoryConfiguration {
	cp := *m
	return &cp
}

// Copy returns a deep copy.
func (r *RemoteRepositoryConfiguration) Copy() *RemoteRepositoryConfiguration {
	cp := *r
	cp.ExtraHeaders = copyMap(r.ExtraHeaders)
	cp.ExtraParameters = copyMap(r.ExtraParameters)
	return &cp
}

// Copy returns a deep copy.
func (g *RepositoryGroupConfiguration) Copy() *RepositoryGroupConfiguration {
	cp := *g
	if g.Repositories != nil {
		cp.Repositories = append([]string{}, g.Repositories...)
	}
	return &cp
}

// Copy returns a deep copy.
func (p *ProxyConnectorConfiguration) Copy() *ProxyConnectorConfiguration {
	cp := *p
	cp.Policies = copyMap(p.Policies)
	return &cp
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	res := make(map[string]string, len(m))
	for k, v := range m {
		res[k] = v
	}
	return res
}
