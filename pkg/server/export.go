package server

import (
	"context"
	"time"

	"github.com/contribution-patrol/patrol/pkg/datastore"
	"gopkg.in/yaml.v3"
)

// BanYAML represents an active ban in YAML export.
type BanYAML struct {
	Username  string `yaml:"username"`
	Reason    string `yaml:"reason,omitempty"`
	CreatedAt string `yaml:"created_at"`
	ExpiresAt string `yaml:"expires_at,omitempty"` // omitted for permanent bans
}

// TrustedYAML represents a whitelisted user in YAML export.
type TrustedYAML struct {
	Username  string `yaml:"username"`
	GrantedAt string `yaml:"granted_at"`
}

// RepositoryYAML represents a repository with its moderation state.
type RepositoryYAML struct {
	Owner   string        `yaml:"owner"`
	Name    string        `yaml:"name"`
	Bans    []BanYAML     `yaml:"bans,omitempty"`
	Trusted []TrustedYAML `yaml:"trusted,omitempty"`
}

// ModerationExport is the top-level YAML for the moderation snapshot.
type ModerationExport struct {
	ExportedAt   string           `yaml:"exported_at"`
	Repositories []RepositoryYAML `yaml:"repositories"`
}

const exportTimeLayout = "2006-01-02T15:04:05Z"

// ExportModerationYAML exports every repository with its active bans and
// trusted users. Expired bans are left out.
func ExportModerationYAML(ctx context.Context, st datastore.DataProviderFactory) ([]byte, error) {
	ds := st.NonTx()
	repos, err := ds.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}

	export := ModerationExport{
		ExportedAt:   ds.Now().UTC().Format(exportTimeLayout),
		Repositories: []RepositoryYAML{},
	}
	for _, r := range repos {
		entry := RepositoryYAML{Owner: r.OwnerUsername, Name: r.Name}

		bans, err := ds.ListActiveBans(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		for _, b := range bans {
			entry.Bans = append(entry.Bans, BanYAML{
				Username:  b.Username,
				Reason:    b.Reason,
				CreatedAt: formatExportTime(b.CreatedAt),
				ExpiresAt: formatExportTime(b.ExpiresAt),
			})
		}

		trusted, err := ds.ListTrusted(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		for _, t := range trusted {
			entry.Trusted = append(entry.Trusted, TrustedYAML{
				Username:  t.Username,
				GrantedAt: formatExportTime(t.GrantedAt),
			})
		}
		export.Repositories = append(export.Repositories, entry)
	}
	return yaml.Marshal(&export)
}

func formatExportTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(exportTimeLayout)
}
