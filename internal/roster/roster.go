// Package roster loads the known identities the kiosk can challenge.
package roster

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Identity is a known person. Roster data is read-only once loaded.
type Identity struct {
	ID          string   `yaml:"id"`
	DisplayName string   `yaml:"name"`
	Contact     string   `yaml:"email"`
	Photos      []string `yaml:"photos,omitempty"` // reference photos used by `roster enroll`
}

// file is the on-disk roster layout.
type file struct {
	Identities []Identity `yaml:"identities"`
}

// Roster is an immutable set of identities indexed by ID and by folded name.
type Roster struct {
	identities []Identity
	byID       map[string]int
	byName     map[string]int
}

// New validates identities and builds the lookup indexes.
func New(identities []Identity) (*Roster, error) {
	r := &Roster{
		identities: make([]Identity, 0, len(identities)),
		byID:       make(map[string]int, len(identities)),
		byName:     make(map[string]int, len(identities)),
	}

	for i, id := range identities {
		id.ID = strings.TrimSpace(id.ID)
		id.DisplayName = strings.TrimSpace(id.DisplayName)
		id.Contact = strings.TrimSpace(id.Contact)

		if id.ID == "" {
			return nil, fmt.Errorf("identity #%d: id is required", i+1)
		}
		// The id is the first field of the QR payload.
		if strings.Contains(id.ID, "|") {
			return nil, fmt.Errorf("identity %q: id must not contain '|'", id.ID)
		}
		if _, dup := r.byID[id.ID]; dup {
			return nil, fmt.Errorf("identity %q: duplicate id", id.ID)
		}

		r.byID[id.ID] = len(r.identities)
		if id.DisplayName != "" {
			r.byName[Fold(id.DisplayName)] = len(r.identities)
		}
		r.identities = append(r.identities, id)
	}

	return r, nil
}

// Load reads a YAML roster file.
func Load(path string) (*Roster, error) {
	if path == "" {
		return nil, errors.New("roster path is required")
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("reading roster: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing roster %s: %w", path, err)
	}
	return New(f.Identities)
}

// ByID looks an identity up by its id.
func (r *Roster) ByID(id string) (Identity, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Identity{}, false
	}
	return r.identities[i], true
}

// ByName looks an identity up by display name, ignoring case and diacritics.
// Older face encodings were keyed by name rather than id.
func (r *Roster) ByName(name string) (Identity, bool) {
	i, ok := r.byName[Fold(name)]
	if !ok {
		return Identity{}, false
	}
	return r.identities[i], true
}

// All returns the identities in file order.
func (r *Roster) All() []Identity {
	out := make([]Identity, len(r.identities))
	copy(out, r.identities)
	return out
}

// Len returns the number of identities.
func (r *Roster) Len() int {
	return len(r.identities)
}

// Fold normalizes a name for lookups: strips diacritics, lowercases and collapses spaces.
func Fold(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
