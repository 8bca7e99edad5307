package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/friend-radar/backend/internal/roster"
)

func TestNewStore_DefaultDir(t *testing.T) {
	s := NewStore("")
	if s.dir == "" {
		t.Fatal("expected non-empty default dir")
	}
	if filepath.Base(s.dir) != appDirName {
		t.Errorf("expected dir to end with %q, got %q", appDirName, s.dir)
	}
}

func TestStore_Path(t *testing.T) {
	s := NewStore("/tmp/test-dir")
	want := "/tmp/test-dir/settings.json"
	if got := s.Path(); got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	s := NewStore(t.TempDir())

	if err := s.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	cur := s.Current()
	if cur.Mode != Blacklist {
		t.Errorf("Mode = %q, want blacklist default", cur.Mode)
	}
	if !cur.Connected.Notify || !cur.Connected.Sound {
		t.Errorf("Connected toggles = %+v, want both on", cur.Connected)
	}
	if cur.SelectedContacts == nil || cur.SelectedGroups == nil {
		t.Error("selection maps should be initialized")
	}
	if cur.SoundVolume != 0.5 {
		t.Errorf("SoundVolume = %f, want 0.5", cur.SoundVolume)
	}
}

func TestStore_LoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	doc := `{"mode":"whitelist","connected":{"notify":false,"sound":false},"selectedContacts":{"a":true}}`
	if err := os.WriteFile(s.Path(), []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	if err := s.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	cur := s.Current()

	if cur.Mode != Whitelist {
		t.Errorf("Mode = %q, want whitelist from document", cur.Mode)
	}
	if cur.Connected.Notify || cur.Connected.Sound {
		t.Errorf("Connected = %+v, want both off from document", cur.Connected)
	}
	if !cur.SelectedContacts["a"] {
		t.Error("SelectedContacts[a] should be true from document")
	}
	// Keys absent from the document keep their defaults.
	if !cur.Disconnected.Notify {
		t.Error("Disconnected.Notify should keep its default true")
	}
	if cur.SoundVolume != 0.5 {
		t.Errorf("SoundVolume = %f, want default 0.5", cur.SoundVolume)
	}
}

func TestStore_LoadCorruptKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	if err := os.WriteFile(s.Path(), []byte("{invalid"), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	if err := s.Load(); err == nil {
		t.Fatal("Load() should return error for corrupt JSON")
	}
	if got := s.Current().Mode; got != Blacklist {
		t.Errorf("Mode after corrupt load = %q, want blacklist default", got)
	}
}

func TestStore_LoadClampsVolume(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	if err := os.WriteFile(s.Path(), []byte(`{"soundVolume":1.5}`), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	if err := s.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := s.Current().SoundVolume; got != 1.0 {
		t.Errorf("SoundVolume = %f, want clamped 1.0", got)
	}
}

func TestStore_UpdatePersistsSynchronously(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	if err := s.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if _, err := s.Update(func(cur *Settings) {
		cur.GlobalMute = true
	}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("settings file should exist after Update: %v", err)
	}
	var onDisk Settings
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("parsing written settings: %v", err)
	}
	if !onDisk.GlobalMute {
		t.Error("GlobalMute mutation not written to disk")
	}
	if onDisk.LastUpdated.IsZero() {
		t.Error("LastUpdated should be set on save")
	}
}

func TestStore_SaveRoundTripPreservesValues(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	if err := s.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if _, err := s.Update(func(cur *Settings) {
		cur.Mode = Whitelist
		cur.SelectedContacts["friend-1"] = true
		cur.SelectedGroups["duo"] = true
		cur.StatusChanged = TogglePair{Notify: true, Sound: true}
		cur.SoundVolume = 0.8
	}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	reloaded := NewStore(dir)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("reload error: %v", err)
	}
	cur := reloaded.Current()
	if cur.Mode != Whitelist {
		t.Errorf("Mode = %q, want whitelist", cur.Mode)
	}
	if !cur.SelectedContacts["friend-1"] || !cur.SelectedGroups["duo"] {
		t.Errorf("selections lost in round trip: %+v %+v", cur.SelectedContacts, cur.SelectedGroups)
	}
	if !cur.StatusChanged.Notify || !cur.StatusChanged.Sound {
		t.Errorf("StatusChanged = %+v, want both on", cur.StatusChanged)
	}
	if cur.SoundVolume != 0.8 {
		t.Errorf("SoundVolume = %f, want 0.8", cur.SoundVolume)
	}
}

func TestStore_UnknownKeysSurviveSave(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	doc := `{"mode":"whitelist","toastTheme":{"accent":"red"},"experimental":true}`
	if err := os.WriteFile(s.Path(), []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	if err := s.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if _, err := s.Update(func(cur *Settings) {
		cur.GlobalMute = true
	}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	// A second save must keep preserving what the first carried over.
	if _, err := s.Update(func(cur *Settings) {
		cur.GlobalMute = false
	}); err != nil {
		t.Fatalf("second Update() error: %v", err)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("parsing written settings: %v", err)
	}
	if string(raw["experimental"]) != "true" {
		t.Errorf("unknown key 'experimental' = %s, want true", raw["experimental"])
	}
	var theme map[string]string
	if err := json.Unmarshal(raw["toastTheme"], &theme); err != nil || theme["accent"] != "red" {
		t.Errorf("unknown key 'toastTheme' lost or mangled: %s", raw["toastTheme"])
	}
	if string(raw["mode"]) != `"whitelist"` {
		t.Errorf("mode = %s, want whitelist", raw["mode"])
	}
}

func TestStore_UnknownKeysNotInventedForFreshFile(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	if err := s.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if _, err := s.Update(func(cur *Settings) { cur.GlobalMute = true }); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("parsing written settings: %v", err)
	}
	if _, ok := raw["mode"]; !ok {
		t.Error("written document missing mode key")
	}
}

func TestStore_WriteFailureKeepsMemoryAuthoritative(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "state")
	// A file where the directory should be makes every save fail.
	if err := os.WriteFile(dir, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	s := NewStore(dir)
	if _, err := s.Update(func(cur *Settings) { cur.GlobalMute = true }); err == nil {
		t.Fatal("Update should fail when the state dir cannot be created")
	}
	if !s.Current().GlobalMute {
		t.Error("mutation should survive in memory after a failed write")
	}

	// Clearing the obstruction lets the next mutation persist everything.
	if err := os.Remove(dir); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if _, err := s.Update(func(cur *Settings) { cur.SoundVolume = 0.9 }); err != nil {
		t.Fatalf("Update after clearing obstruction: %v", err)
	}

	reloaded := NewStore(dir)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("reload error: %v", err)
	}
	cur := reloaded.Current()
	if !cur.GlobalMute || cur.SoundVolume != 0.9 {
		t.Errorf("retried write lost state: %+v", cur)
	}
}

func TestStore_CurrentReturnsClone(t *testing.T) {
	s := NewStore(t.TempDir())
	got := s.Current()
	got.SelectedContacts["x"] = true
	got.Mode = Whitelist

	if s.Current().Mode != Blacklist {
		t.Error("Current did not return a clone; mode mutation leaked")
	}
	if len(s.Current().SelectedContacts) != 0 {
		t.Error("Current did not deep-copy selection maps")
	}
}

func TestStore_Replace(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	if err := s.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	next := Default()
	next.Mode = Whitelist
	next.SelectedContacts["a"] = true
	next.SoundVolume = 2.0 // normalized on the way in

	applied, err := s.Replace(next)
	if err != nil {
		t.Fatalf("Replace() error: %v", err)
	}
	if applied.Mode != Whitelist || !applied.SelectedContacts["a"] {
		t.Errorf("Replace result = %+v", applied)
	}
	if applied.SoundVolume != 1.0 {
		t.Errorf("SoundVolume = %f, want clamped 1.0", applied.SoundVolume)
	}
}

func TestSettings_Toggles(t *testing.T) {
	s := Default()
	s.Connected = TogglePair{Notify: true, Sound: false}
	s.RequestReceived = TogglePair{Notify: false, Sound: true}
	s.Self = TogglePair{Notify: true, Sound: true}

	tests := []struct {
		kind roster.EventKind
		want TogglePair
	}{
		{roster.Connected, TogglePair{Notify: true, Sound: false}},
		{roster.RequestReceived, TogglePair{Notify: false, Sound: true}},
		{roster.SelfStatusChanged, TogglePair{Notify: true, Sound: true}},
	}
	for _, tt := range tests {
		if got := s.Toggles(tt.kind); got != tt.want {
			t.Errorf("Toggles(%v) = %+v, want %+v", tt.kind, got, tt.want)
		}
	}
}

func TestSettings_HasAnySelection(t *testing.T) {
	s := Default()
	if s.HasAnySelection() {
		t.Error("empty selections should report false")
	}

	s.SelectedContacts["a"] = false
	s.SelectedGroups["g"] = false
	if s.HasAnySelection() {
		t.Error("false-valued entries are not selections")
	}

	s.SelectedGroups["g"] = true
	if !s.HasAnySelection() {
		t.Error("a true group entry should count as a selection")
	}
}
