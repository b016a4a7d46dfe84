package roster

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roster.yaml")
	content := `identities:
  - id: S001
    name: Jana Nováková
    email: jana@example.com
    photos:
      - photos/jana-1.jpg
  - id: S002
    name: Tomáš Kozák
    email: tomas@example.com
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 identities, got %d", r.Len())
	}

	id, ok := r.ByID("S001")
	if !ok {
		t.Fatal("expected S001 to exist")
	}
	if id.Contact != "jana@example.com" {
		t.Errorf("expected contact jana@example.com, got %q", id.Contact)
	}
	if len(id.Photos) != 1 {
		t.Errorf("expected 1 photo, got %d", len(id.Photos))
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing roster")
	}
	if _, err := Load(""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name       string
		identities []Identity
		wantErr    bool
	}{
		{"ok", []Identity{{ID: "S001"}, {ID: "S002"}}, false},
		{"empty id", []Identity{{ID: "  "}}, true},
		{"duplicate id", []Identity{{ID: "S001"}, {ID: "S001"}}, true},
		{"pipe in id", []Identity{{ID: "S|001"}}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.identities)
			if (err != nil) != tc.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestByName_FoldsCaseAndDiacritics(t *testing.T) {
	r, err := New([]Identity{{ID: "S002", DisplayName: "Tomáš Kozák"}})
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"Tomáš Kozák", "tomas kozak", "  TOMAS   KOZAK "} {
		id, ok := r.ByName(name)
		if !ok || id.ID != "S002" {
			t.Errorf("ByName(%q) = %v, %v", name, id, ok)
		}
	}
	if _, ok := r.ByName("Unknown"); ok {
		t.Error("expected Unknown to be absent")
	}
}

func TestAll_ReturnsCopy(t *testing.T) {
	r, _ := New([]Identity{{ID: "S001", DisplayName: "A"}})
	all := r.All()
	all[0].DisplayName = "changed"

	id, _ := r.ByID("S001")
	if id.DisplayName != "A" {
		t.Error("All() must not expose internal state")
	}
}

func TestFold(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Žluťoučký Kůň", "zlutoucky kun"},
		{"ANNA", "anna"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := Fold(tc.in); got != tc.want {
			t.Errorf("Fold(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
