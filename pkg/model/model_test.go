package model

import (
	"strings"
	"testing"
	"time"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid simple", "alice", nil},
		{"valid with numbers", "user123", nil},
		{"valid with underscore", "my_user", nil},
		{"valid with hyphen", "my-user", nil},
		{"valid bot", "dependabot[bot]", nil},
		{"valid max length", strings.Repeat("a", MaxUsernameLength), nil},
		{"empty", "", ErrUsernameEmpty},
		{"bot suffix only", "[bot]", ErrUsernameEmpty},
		{"too long", strings.Repeat("a", MaxUsernameLength+1), ErrUsernameTooLong},
		{"contains space", "has space", ErrUsernameInvalidChars},
		{"contains dot", "user.name", ErrUsernameInvalidChars},
		{"leading @ not stripped", "@bob", ErrUsernameInvalidChars},
		{"unicode letter", "ñoño", ErrUsernameInvalidChars},
		{"bracket elsewhere", "bo[b]t", ErrUsernameInvalidChars},
		{"newline", "user\nname", ErrUsernameInvalidChars},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.input)
			if err != tt.wantErr {
				t.Errorf("ValidateUsername(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeUsername(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"bob", "bob"},
		{"@bob", "bob"},
		{"@@bob", "@bob"},
		{"bo@b", "bo@b"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeUsername(tt.input); got != tt.want {
				t.Errorf("NormalizeUsername(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTierSatisfies(t *testing.T) {
	tests := []struct {
		tier     Tier
		required Tier
		want     bool
	}{
		{TierOwner, TierOwner, true},
		{TierOwner, TierTrusted, true},
		{TierOwner, TierNone, true},
		{TierTrusted, TierOwner, false},
		{TierTrusted, TierTrusted, true},
		{TierNone, TierTrusted, false},
		{TierNone, TierNone, true},
		{Tier(7), TierNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.tier.String()+"/"+tt.required.String(), func(t *testing.T) {
			if got := tt.tier.Satisfies(tt.required); got != tt.want {
				t.Errorf("Tier(%d).Satisfies(%d) = %v, want %v", tt.tier, tt.required, got, tt.want)
			}
		})
	}
}

func TestTierString(t *testing.T) {
	tests := []struct {
		tier Tier
		want string
	}{
		{TierNone, "none"},
		{TierTrusted, "trusted"},
		{TierOwner, "owner"},
		{Tier(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.tier.String(); got != tt.want {
				t.Errorf("Tier(%d).String() = %q, want %q", tt.tier, got, tt.want)
			}
		})
	}
}

func TestParseCommandKind(t *testing.T) {
	tests := []struct {
		input string
		want  CommandKind
	}{
		{"ban", CommandBan},
		{"BAN", CommandBan},
		{"TempBan", CommandTempBan},
		{"unban", CommandUnban},
		{"whitelist", CommandWhitelist},
		{"unwhitelist", CommandUnwhitelist},
		{"kick", CommandUnknown},
		{"", CommandUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseCommandKind(tt.input); got != tt.want {
				t.Errorf("ParseCommandKind(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestCommandRoundTrip(t *testing.T) {
	for _, c := range Commands {
		if got := ParseCommandKind(c.String()); got != c {
			t.Errorf("ParseCommandKind(%q) = %v, want %v", c.String(), got, c)
		}
		if !strings.HasPrefix(c.Syntax(), c.String()+" ") {
			t.Errorf("%v.Syntax() = %q, want prefix %q", c, c.Syntax(), c.String())
		}
	}
}

func TestBanActiveAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ban  Ban
		want bool
	}{
		{"permanent", Ban{}, true},
		{"future", Ban{ExpiresAt: now.Add(time.Second)}, true},
		{"exactly now", Ban{ExpiresAt: now}, false},
		{"past", Ban{ExpiresAt: now.Add(-time.Hour)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ban.ActiveAt(now); got != tt.want {
				t.Errorf("ActiveAt = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateDuration(t *testing.T) {
	tests := []struct {
		days    int
		wantErr bool
	}{
		{1, false},
		{7, false},
		{MaxTempBanDays, false},
		{0, true},
		{-3, true},
		{MaxTempBanDays + 1, true},
	}

	for _, tt := range tests {
		err := ValidateDuration(tt.days)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateDuration(%d) = %v, wantErr %v", tt.days, err, tt.wantErr)
		}
	}
}

func TestValidateRepositoryName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"patrol", false},
		{"my.repo-name_2", false},
		{".github", false},
		{"", true},
		{".", true},
		{"..", true},
		{"has space", true},
		{"slash/name", true},
		{strings.Repeat("r", MaxRepositoryNameLength+1), true},
	}

	for _, tt := range tests {
		err := ValidateRepositoryName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateRepositoryName(%q) = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestRepositoryFullName(t *testing.T) {
	r := Repository{OwnerUsername: "octo", Name: "patrol"}
	if got := r.FullName(); got != "octo/patrol" {
		t.Errorf("FullName = %q, want %q", got, "octo/patrol")
	}
}
