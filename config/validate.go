package config

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
)

// ErrInvalid is the sentinel wrapped by every ValidationError.
var ErrInvalid = errors.New("invalid configuration")

// ValidationError reports a configuration field that failed validation.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalid}
	}
	return []error{ErrInvalid, e.Err}
}

// Quartz style expressions: optional seconds field, "?" allowed for day fields.
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ParseSchedule parses a cron expression in the form accepted by repository
// and group schedules.
func ParseSchedule(expr string) (cron.Schedule, error) {
	s, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, &ValidationError{Field: "schedule", Value: expr, Err: err}
	}
	return s, nil
}

// ValidateSchedule reports whether expr is a usable cron expression.
func ValidateSchedule(expr string) error {
	_, err := ParseSchedule(expr)
	return err
}

// ValidateID checks a repository identifier.
func ValidateID(id string) error {
	if id == "" {
		return &ValidationError{Field: "id", Value: id, Err: errors.New("must not be empty")}
	}
	if !idPattern.MatchString(id) {
		return &ValidationError{Field: "id", Value: id, Err: errors.New("only letters, digits, '.', '_' and '-' are allowed")}
	}
	return nil
}

// Validate checks the managed repository fields.
func (m *ManagedRepositoryConfiguration) Validate() error {
	if err := ValidateID(m.ID); err != nil {
		return err
	}
	if m.RefreshCronExpression != "" {
		if err := ValidateSchedule(m.RefreshCronExpression); err != nil {
			return err
		}
	}
	if m.RetentionPeriod < 0 {
		return &ValidationError{Field: "retentionPeriod", Value: fmt.Sprint(m.RetentionPeriod), Err: errors.New("must not be negative")}
	}
	return nil
}

// Validate checks the remote repository fields.
func (r *RemoteRepositoryConfiguration) Validate() error {
	if err := ValidateID(r.ID); err != nil {
		return err
	}
	if r.URL == "" {
		return &ValidationError{Field: "url", Value: r.URL, Err: errors.New("must not be empty")}
	}
	if r.RefreshCronExpression != "" {
		if err := ValidateSchedule(r.RefreshCronExpression); err != nil {
			return err
		}
	}
	if r.TimeoutSeconds < 0 {
		return &ValidationError{Field: "timeout", Value: fmt.Sprint(r.TimeoutSeconds), Err: errors.New("must not be negative")}
	}
	return nil
}

// Validate checks the group fields.
func (g *RepositoryGroupConfiguration) Validate() error {
	if err := ValidateID(g.ID); err != nil {
		return err
	}
	if g.CronExpression != "" {
		if err := ValidateSchedule(g.CronExpression); err != nil {
			return err
		}
	}
	if g.MergedIndexTTL < 0 {
		return &ValidationError{Field: "mergedIndexTtl", Value: fmt.Sprint(g.MergedIndexTTL), Err: errors.New("must not be negative")}
	}
	seen := make(map[string]bool, len(g.Repositories))
	for _, m := range g.Repositories {
		if seen[m] {
			return &ValidationError{Field: "repositories", Value: m, Err: errors.New("duplicate member")}
		}
		seen[m] = true
	}
	return nil
}

// Validate checks every entry and the cross references between them.
// All problems are reported, not just the first.
func (c *Configuration) Validate() error {
	var result error
	ids := make(map[string]string)
	claim := func(id, kind string) {
		if prev, ok := ids[id]; ok {
			result = multierror.Append(result, &ValidationError{
				Field: "id", Value: id,
				Err: fmt.Errorf("already used by a %s repository", prev),
			})
			return
		}
		ids[id] = kind
	}
	for _, m := range c.ManagedRepositories {
		if err := m.Validate(); err != nil {
			result = multierror.Append(result, err)
		}
		claim(m.ID, "managed")
	}
	for _, r := range c.RemoteRepositories {
		if err := r.Validate(); err != nil {
			result = multierror.Append(result, err)
		}
		claim(r.ID, "remote")
	}
	for _, g := range c.RepositoryGroups {
		if err := g.Validate(); err != nil {
			result = multierror.Append(result, err)
		}
		claim(g.ID, "group")
	}
	for _, pc := range c.ProxyConnectors {
		if pc.SourceRepoID == "" || pc.TargetRepoID == "" {
			result = multierror.Append(result, &ValidationError{
				Field: "proxyConnector", Value: pc.SourceRepoID + "->" + pc.TargetRepoID,
				Err: errors.New("source and target are required"),
			})
		}
	}
	return result
}
