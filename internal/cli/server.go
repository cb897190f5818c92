package cli

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/git-pkgs/repositories/internal/core"
	"github.com/git-pkgs/repositories/resolve"
)

// ModelView is the JSON form of a resolved model.
type ModelView struct {
	Repository      string `json:"repository"`
	Coordinate      string `json:"coordinate"`
	ConcreteVersion string `json:"concreteVersion,omitempty"`
	Path            string `json:"path"`
	Source          string `json:"source,omitempty"`
	Packaging       string `json:"packaging,omitempty"`
	Name            string `json:"name,omitempty"`
	Licenses        string `json:"licenses,omitempty"`
	Parent          string `json:"parent,omitempty"`
	Dependencies    int    `json:"dependencies"`
}

func modelView(m *resolve.ResolvedModel) ModelView {
	v := ModelView{
		Repository:      m.Repository,
		Coordinate:      m.Coordinate().String(),
		ConcreteVersion: m.ConcreteVersion,
		Path:            m.Path,
		Source:          m.Source,
		Packaging:       m.Packaging,
		Name:            m.Name,
		Licenses:        m.LicenseNames(),
		Dependencies:    len(m.Dependencies),
	}
	if m.Parent != nil {
		v.Parent = m.Parent.Coordinate().String()
	}
	return v
}

func (a *app) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.prom, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", a.serveHealth)
	mux.HandleFunc("GET /repositories", a.serveRepositories)
	mux.HandleFunc("GET /repositories/{id}/models/{coordinate}", a.serveModel)
	mux.HandleFunc("GET /repositories/{id}/facts", a.serveFacts)
	return mux
}

func (a *app) serveHealth(w http.ResponseWriter, r *http.Request) {
	report, err := a.health(r.Context(), r.URL.Query().Has("check"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := http.StatusOK
	if report.Status != HealthStatusHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (a *app) serveRepositories(w http.ResponseWriter, _ *http.Request) {
	repos := a.reg.Repositories()
	out := make([]RepositoryHealth, 0, len(repos))
	for _, repo := range repos {
		out = append(out, describe(repo))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *app) serveModel(w http.ResponseWriter, r *http.Request) {
	c, err := parseCoordinate(r.PathValue("coordinate"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := a.resolver(r.PathValue("id"), nil, false)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	m, err := res.ResolveModel(r.Context(), c.GroupID, c.ArtifactID, c.Version)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, modelView(m))
}

func (a *app) serveFacts(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if a.reg.Managed(id) == nil {
		err := &core.NotFoundError{Kind: core.KindManaged, ID: id}
		writeError(w, http.StatusNotFound, err)
		return
	}
	facts, err := a.facts.Facts(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if facts == nil {
		facts = []resolve.Fact{}
	}
	writeJSON(w, http.StatusOK, facts)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound), errors.Is(err, resolve.ErrModelNotFound):
		return http.StatusNotFound
	case errors.Is(err, resolve.ErrModelBroken):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
