package server

import (
	"context"
	"testing"
	"time"

	"github.com/contribution-patrol/patrol/pkg/datastore"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

func TestExportModerationYAML(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st := datastore.NewMemoryWithClock(func() time.Time { return now })
	ctx := context.Background()

	repo, err := st.RegisterRepository(ctx, "octo", "patrol")
	if err != nil {
		t.Fatalf("RegisterRepository: %v", err)
	}
	if _, err := st.RegisterRepository(ctx, "octo", "quiet"); err != nil {
		t.Fatalf("RegisterRepository: %v", err)
	}
	users := map[string]int64{}
	for _, name := range []string{"spammer", "troll", "expired", "helper"} {
		u, err := st.ResolveUser(ctx, name)
		if err != nil {
			t.Fatalf("ResolveUser: %v", err)
		}
		users[name] = u.ID
	}

	if _, err := st.BanPermanent(ctx, users["spammer"], repo.ID, "flooding"); err != nil {
		t.Fatalf("BanPermanent: %v", err)
	}
	if _, err := st.BanUntil(ctx, users["troll"], repo.ID, now.AddDate(0, 0, 3), ""); err != nil {
		t.Fatalf("BanUntil: %v", err)
	}
	if _, err := st.BanUntil(ctx, users["expired"], repo.ID, now.Add(-time.Hour), ""); err != nil {
		t.Fatalf("BanUntil: %v", err)
	}
	if _, err := st.GrantTrust(ctx, users["helper"], repo.ID); err != nil {
		t.Fatalf("GrantTrust: %v", err)
	}

	data, err := ExportModerationYAML(ctx, st)
	if err != nil {
		t.Fatalf("ExportModerationYAML: %v", err)
	}

	var got ModerationExport
	if err := yaml.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal export: %v\n%s", err, data)
	}
	want := ModerationExport{
		ExportedAt: "2025-06-01T12:00:00Z",
		Repositories: []RepositoryYAML{
			{
				Owner: "octo",
				Name:  "patrol",
				Bans: []BanYAML{
					{Username: "spammer", Reason: "flooding", CreatedAt: "2025-06-01T12:00:00Z"},
					{Username: "troll", CreatedAt: "2025-06-01T12:00:00Z", ExpiresAt: "2025-06-04T12:00:00Z"},
				},
				Trusted: []TrustedYAML{{Username: "helper", GrantedAt: "2025-06-01T12:00:00Z"}},
			},
			{Owner: "octo", Name: "quiet"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("export mismatch (-want +got):\n%s", diff)
	}
}

func TestExportModerationYAMLEmpty(t *testing.T) {
	data, err := ExportModerationYAML(context.Background(), datastore.NewMemory())
	if err != nil {
		t.Fatalf("ExportModerationYAML: %v", err)
	}
	var got ModerationExport
	if err := yaml.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal export: %v", err)
	}
	if len(got.Repositories) != 0 {
		t.Errorf("Repositories = %+v, want none", got.Repositories)
	}
}
