package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	if err := Save(path, &Config{DefaultProfile: "work"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load("/nonexistent/config.toml"); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles", "main", "profile.toml")

	p := DefaultProfile()
	p.User.ID = "u1"
	if err := SaveProfile(path, &p); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestLoadProfileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.toml")
	content := `
[user]
id = "u42"
nickname = "Ada"

[redis]
addr = "redis:6379"
max_attempts = 5

[typing]
timeout = "5s"

[privacy]
typing_hidden = true
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.User.ID != "u42" || p.User.Nickname != "Ada" {
		t.Errorf("user = %+v", p.User)
	}
	if p.Redis.Addr != "redis:6379" || p.Redis.MaxAttempts != 5 {
		t.Errorf("redis = %+v", p.Redis)
	}
	if p.Redis.BackoffMax.Duration != 30*time.Second {
		t.Errorf("backoff_max = %s, want default 30s", p.Redis.BackoffMax)
	}
	if p.Typing.Timeout.Duration != 5*time.Second {
		t.Errorf("typing timeout = %s, want 5s", p.Typing.Timeout)
	}
	if !p.Privacy.TypingHidden || p.Privacy.PresenceHidden {
		t.Errorf("privacy = %+v", p.Privacy)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.toml")
	p := DefaultProfile()
	p.User = User{ID: "u1", Nickname: "Lin"}
	p.Redis.BackoffMin = Duration{time.Second}
	if err := SaveProfile(path, &p); err != nil {
		t.Fatal(err)
	}
	got, err := LoadProfile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Redis.BackoffMin.Duration != time.Second || got.User.Nickname != "Lin" {
		t.Errorf("got %+v", got)
	}
}

func TestLoadProfileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.toml")
	if err := os.WriteFile(path, []byte("[redis]\nadress = \"x\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProfile(path); err == nil {
		t.Error("expected error for misspelled key")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Profile)
		wantErr bool
	}{
		{"ok", func(p *Profile) { p.User.ID = "u" }, false},
		{"no user", func(p *Profile) {}, true},
		{"inverted backoff", func(p *Profile) {
			p.User.ID = "u"
			p.Redis.BackoffMin = Duration{time.Minute}
		}, true},
		{"negative attempts", func(p *Profile) {
			p.User.ID = "u"
			p.Redis.MaxAttempts = -1
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultProfile()
			tt.mutate(&p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	p := DefaultProfile()
	if err := p.Validate(); !errors.Is(err, ErrNoUser) {
		t.Errorf("err = %v, want ErrNoUser", err)
	}
}
