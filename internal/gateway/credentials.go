package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var ErrCredentialMissing = errors.New("no credential for tenant")

// Credential is a broker API key bound to a tenant key. The key value never
// leaves the gateway: it is redacted in every printed form.
type Credential struct {
	TenantKey string
	apiKey    string
}

func (c Credential) APIKey() string {
	return c.apiKey
}

func (c Credential) String() string {
	return fmt.Sprintf("credential(%s)", c.TenantKey)
}

func (c Credential) LogValue() slog.Value {
	return slog.StringValue(c.TenantKey)
}

type credentialEntry struct {
	name string
	cred Credential
}

// Credentials maps tenant names to API keys.
type Credentials struct {
	entries  []credentialEntry
	fallback *Credential
}

// CredentialSpec is one configured tenant key with its aliases.
type CredentialSpec struct {
	Key     string
	APIKey  string
	Aliases []string
}

// NewCredentials builds the lookup table. defaultKey, when set, must name one
// of the specs and is used when nothing matches.
func NewCredentials(specs []CredentialSpec, defaultKey string) (*Credentials, error) {
	c := &Credentials{}
	for _, s := range specs {
		if s.APIKey == "" {
			return nil, fmt.Errorf("credential %q has no api key", s.Key)
		}
		cred := Credential{TenantKey: s.Key, apiKey: s.APIKey}
		for _, name := range append([]string{s.Key}, s.Aliases...) {
			n := Normalize(name)
			if n == "" {
				continue
			}
			c.entries = append(c.entries, credentialEntry{name: n, cred: cred})
		}
		if defaultKey != "" && s.Key == defaultKey {
			fallback := cred
			c.fallback = &fallback
		}
	}
	if defaultKey != "" && c.fallback == nil {
		return nil, fmt.Errorf("default credential %q is not configured", defaultKey)
	}

	// Longest names first so the most specific entry wins.
	sort.SliceStable(c.entries, func(i, j int) bool {
		return len(c.entries[i].name) > len(c.entries[j].name)
	})
	return c, nil
}

// Resolve finds the credential for a tenant name. An entry matches when its
// normalized name equals the tenant or appears in it as whole words; the
// longest matching entry wins.
func (c *Credentials) Resolve(tenant string) (Credential, error) {
	n := Normalize(tenant)
	if n != "" {
		padded := " " + n + " "
		for _, e := range c.entries {
			if strings.Contains(padded, " "+e.name+" ") {
				return e.cred, nil
			}
		}
	}
	if c.fallback != nil {
		return *c.fallback, nil
	}
	return Credential{}, fmt.Errorf("%w: %q", ErrCredentialMissing, tenant)
}

func (c *Credentials) Len() int {
	return len(c.entries)
}

var stripMarks = runes.Remove(runes.In(unicode.Mn))

// Normalize folds a tenant name for matching: accents and case are dropped
// and every run of non-alphanumerics becomes one space.
func Normalize(s string) string {
	t := transform.Chain(norm.NFKD, stripMarks, norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}
