package registry

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ProfilesFileName)
	want := []Profile{
		{Name: "dev", Brokers: []string{"localhost:9092"}, ConnectByDefault: true},
		{Name: "prod", Brokers: []string{"kafka-a:9092", "kafka-b:9092"}, KafkaVersion: "v3.7"},
	}

	if err := Save(path, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Load() = %#v, want %#v", got, want)
	}

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestLoadMissingFile(t *testing.T) {
	got, err := Load(filepath.Join(t.TempDir(), ProfilesFileName))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("Load() = %#v, want empty slice", got)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	malformed := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(malformed, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(malformed); err == nil {
		t.Fatalf("expected error for malformed file")
	}

	// A directory in place of the file exists but cannot be read as one.
	unreadable := filepath.Join(dir, "dir.json")
	if err := os.Mkdir(unreadable, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := Load(unreadable); err == nil {
		t.Fatalf("expected error for unreadable file")
	}
}

func TestLoadChecksHandEditedFile(t *testing.T) {
	cases := []struct {
		name        string
		data        string
		wantDup     string
		wantErr     error
		wantNames   []string
		wantDefault string
	}{
		{
			name:    "duplicate-names",
			data:    `[{"name":"prod","brokerUrls":["a:9092"]},{"name":" prod ","brokerUrls":["b:9092"]}]`,
			wantDup: "prod",
		},
		{
			name:    "invalid-entry",
			data:    `[{"name":"prod","brokerUrls":["nohost"]}]`,
			wantErr: ErrInvalidProfile,
		},
		{
			name:        "several-defaults",
			data:        `[{"name":"dev","brokerUrls":["a:9092"],"connectByDefault":true},{"name":"prod","brokerUrls":["b:9092"],"connectByDefault":true}]`,
			wantNames:   []string{"dev", "prod"},
			wantDefault: "dev",
		},
		{
			name:      "trimmed",
			data:      `[{"name":" dev ","brokerUrls":[" a:9092 ",""]}]`,
			wantNames: []string{"dev"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, ProfilesFileName), []byte(tc.data), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}

			reg, err := Open(dir)
			if tc.wantDup != "" {
				var dup *DuplicateNameError
				if !errors.As(err, &dup) || dup.Name != tc.wantDup {
					t.Fatalf("Open() error = %v, want duplicate %q", err, tc.wantDup)
				}
				return
			}
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Open() error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}

			profiles := reg.Profiles()
			if len(profiles) != len(tc.wantNames) {
				t.Fatalf("profiles = %+v, want %v", profiles, tc.wantNames)
			}
			defaults := 0
			for i, p := range profiles {
				if p.Name != tc.wantNames[i] {
					t.Fatalf("profile %d = %q, want %q", i, p.Name, tc.wantNames[i])
				}
				if p.ConnectByDefault {
					defaults++
				}
			}
			if defaults > 1 {
				t.Fatalf("%d connect-by-default profiles, want at most 1", defaults)
			}
			def, ok := reg.Default()
			if tc.wantDefault != "" && (!ok || def.Name != tc.wantDefault) {
				t.Fatalf("Default() = %q, want %q", def.Name, tc.wantDefault)
			}
		})
	}
}

func TestUpsertPersistsImmediately(t *testing.T) {
	dir := t.TempDir()
	reg, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := reg.Upsert(Profile{Name: " dev ", Brokers: []string{" localhost:9092 ", ""}}, ""); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	p, ok := reopened.Get("dev")
	if !ok {
		t.Fatalf("profile not persisted")
	}
	if !reflect.DeepEqual(p.Brokers, []string{"localhost:9092"}) {
		t.Fatalf("brokers = %#v", p.Brokers)
	}
}

func TestUpsertDuplicateName(t *testing.T) {
	dir := t.TempDir()
	reg, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	mustUpsert(t, reg, Profile{Name: "dev", Brokers: []string{"localhost:9092"}}, "")
	mustUpsert(t, reg, Profile{Name: "prod", Brokers: []string{"kafka:9092"}}, "")
	before := reg.Profiles()

	cases := []struct {
		name     string
		profile  Profile
		original string
	}{
		{name: "insert", profile: Profile{Name: "dev", Brokers: []string{"other:9092"}}},
		{name: "rename-onto-existing", profile: Profile{Name: "prod", Brokers: []string{"x:1"}}, original: "dev"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := reg.Upsert(tc.profile, tc.original)
			var dup *DuplicateNameError
			if !errors.As(err, &dup) {
				t.Fatalf("error = %v, want DuplicateNameError", err)
			}
			if dup.Name != tc.profile.Name {
				t.Fatalf("duplicate name = %q", dup.Name)
			}
			if !reflect.DeepEqual(reg.Profiles(), before) {
				t.Fatalf("registry changed: %#v", reg.Profiles())
			}
			onDisk, err := Load(reg.Path())
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if !reflect.DeepEqual(onDisk, before) {
				t.Fatalf("file changed: %#v", onDisk)
			}
		})
	}
}

func TestUpsertEditKeepsPosition(t *testing.T) {
	reg, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	mustUpsert(t, reg, Profile{Name: "a", Brokers: []string{"a:1"}}, "")
	mustUpsert(t, reg, Profile{Name: "b", Brokers: []string{"b:1"}}, "")
	mustUpsert(t, reg, Profile{Name: "c", Brokers: []string{"c:1"}}, "")

	// Same name as the edited profile is not a duplicate.
	mustUpsert(t, reg, Profile{Name: "b", Brokers: []string{"b:2"}}, "b")
	mustUpsert(t, reg, Profile{Name: "bee", Brokers: []string{"b:3"}}, "b")

	var names []string
	for _, p := range reg.Profiles() {
		names = append(names, p.Name)
	}
	if !reflect.DeepEqual(names, []string{"a", "bee", "c"}) {
		t.Fatalf("order = %v", names)
	}

	if err := reg.Upsert(Profile{Name: "z", Brokers: []string{"z:1"}}, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestUpsertValidation(t *testing.T) {
	reg, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	cases := []struct {
		name    string
		profile Profile
	}{
		{name: "empty-name", profile: Profile{Brokers: []string{"localhost:9092"}}},
		{name: "no-brokers", profile: Profile{Name: "dev"}},
		{name: "blank-brokers", profile: Profile{Name: "dev", Brokers: []string{" ", ""}}},
		{name: "missing-port", profile: Profile{Name: "dev", Brokers: []string{"localhost"}}},
		{name: "missing-host", profile: Profile{Name: "dev", Brokers: []string{":9092"}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := reg.Upsert(tc.profile, ""); !errors.Is(err, ErrInvalidProfile) {
				t.Fatalf("error = %v, want ErrInvalidProfile", err)
			}
		})
	}
	if len(reg.Profiles()) != 0 {
		t.Fatalf("invalid profile was stored")
	}
}

func TestRemove(t *testing.T) {
	reg, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	mustUpsert(t, reg, Profile{Name: "dev", Brokers: []string{"localhost:9092"}}, "")

	if err := reg.Remove("absent"); err != nil {
		t.Fatalf("Remove(absent) error = %v", err)
	}
	if err := reg.Remove("dev"); err != nil {
		t.Fatalf("Remove(dev) error = %v", err)
	}
	if _, ok := reg.Get("dev"); ok {
		t.Fatalf("profile still present")
	}
}

func TestSetDefaultIsExclusive(t *testing.T) {
	dir := t.TempDir()
	reg, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	mustUpsert(t, reg, Profile{Name: "a", Brokers: []string{"a:1"}}, "")
	mustUpsert(t, reg, Profile{Name: "b", Brokers: []string{"b:1"}}, "")

	if err := reg.SetDefault("a"); err != nil {
		t.Fatalf("SetDefault(a) error = %v", err)
	}
	if err := reg.SetDefault("b"); err != nil {
		t.Fatalf("SetDefault(b) error = %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	a, _ := reopened.Get("a")
	b, _ := reopened.Get("b")
	if a.ConnectByDefault || !b.ConnectByDefault {
		t.Fatalf("a=%v b=%v, want a=false b=true", a.ConnectByDefault, b.ConnectByDefault)
	}

	// Inserting a default profile demotes the previous one too.
	mustUpsert(t, reg, Profile{Name: "c", Brokers: []string{"c:1"}, ConnectByDefault: true}, "")
	def, ok := reg.Default()
	if !ok || def.Name != "c" {
		t.Fatalf("Default() = %+v, %v", def, ok)
	}

	if err := reg.SetDefault("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if err := reg.SetDefault(""); err != nil {
		t.Fatalf("SetDefault(\"\") error = %v", err)
	}
	if _, ok := reg.Default(); ok {
		t.Fatalf("default not cleared")
	}
}

func TestSetKafkaVersion(t *testing.T) {
	reg, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	mustUpsert(t, reg, Profile{Name: "dev", Brokers: []string{"localhost:9092"}}, "")

	if err := reg.SetKafkaVersion("dev", "v3.8"); err != nil {
		t.Fatalf("SetKafkaVersion() error = %v", err)
	}
	p, _ := reg.Get("dev")
	if p.KafkaVersion != "v3.8" {
		t.Fatalf("version = %q", p.KafkaVersion)
	}
	if err := reg.SetKafkaVersion("ghost", "v1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestOpenMigratesLegacyMarker(t *testing.T) {
	cases := []struct {
		name        string
		profiles    []Profile
		marker      string
		wantDefault string
	}{
		{
			name: "marker-becomes-default",
			profiles: []Profile{
				{Name: "dev", Brokers: []string{"localhost:9092"}},
				{Name: "prod", Brokers: []string{"kafka:9092"}},
			},
			marker:      "prod\n",
			wantDefault: "prod",
		},
		{
			name: "existing-default-wins",
			profiles: []Profile{
				{Name: "dev", Brokers: []string{"localhost:9092"}, ConnectByDefault: true},
				{Name: "prod", Brokers: []string{"kafka:9092"}},
			},
			marker:      "prod",
			wantDefault: "dev",
		},
		{
			name: "unknown-cluster-ignored",
			profiles: []Profile{
				{Name: "dev", Brokers: []string{"localhost:9092"}},
			},
			marker: "gone",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := Save(filepath.Join(dir, ProfilesFileName), tc.profiles); err != nil {
				t.Fatalf("Save: %v", err)
			}
			markerPath := filepath.Join(dir, LegacyMarkerFileName)
			if err := os.WriteFile(markerPath, []byte(tc.marker), 0o600); err != nil {
				t.Fatalf("write marker: %v", err)
			}

			reg, err := Open(dir)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			def, ok := reg.Default()
			if tc.wantDefault == "" {
				if ok {
					t.Fatalf("unexpected default %q", def.Name)
				}
			} else if !ok || def.Name != tc.wantDefault {
				t.Fatalf("Default() = %q, want %q", def.Name, tc.wantDefault)
			}
			if _, err := os.Stat(markerPath); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("marker not removed: %v", err)
			}
		})
	}
}

func mustUpsert(t *testing.T, reg *Registry, p Profile, original string) {
	t.Helper()
	if err := reg.Upsert(p, original); err != nil {
		t.Fatalf("Upsert(%q) error = %v", p.Name, err)
	}
}
