package domain

import (
	_ "embed"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed blocklist.yaml
var defaultBlocklistYAML []byte

// BlocklistFile is the on-disk blocklist format.
type BlocklistFile struct {
	Version string   `yaml:"version"`
	Domains []string `yaml:"domains"`
}

// Blocklist drops well-known platform domains and their subdomains. It is
// immutable after construction and safe for concurrent use.
type Blocklist struct {
	version string
	entries map[string]struct{}
}

// NewBlocklist builds a blocklist from the given entries.
func NewBlocklist(version string, entries ...string) *Blocklist {
	b := &Blocklist{version: version, entries: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		if e = cleanEntry(e); e != "" {
			b.entries[e] = struct{}{}
		}
	}
	return b
}

// DefaultBlocklist returns the blocklist bundled with the binary.
func DefaultBlocklist() (*Blocklist, error) {
	return parseBlocklist(defaultBlocklistYAML)
}

// LoadBlocklist reads a YAML blocklist from path. An empty path loads the
// bundled default. Extra entries are merged in.
func LoadBlocklist(path string, extra ...string) (*Blocklist, error) {
	var (
		b   *Blocklist
		err error
	)
	if path == "" {
		b, err = DefaultBlocklist()
	} else {
		var data []byte
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "blocklist: read %s", path)
		}
		b, err = parseBlocklist(data)
	}
	if err != nil {
		return nil, err
	}
	for _, e := range extra {
		if e = cleanEntry(e); e != "" {
			b.entries[e] = struct{}{}
		}
	}
	return b, nil
}

func parseBlocklist(data []byte) (*Blocklist, error) {
	var f BlocklistFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "blocklist: parse yaml")
	}
	return NewBlocklist(f.Version, f.Domains...), nil
}

// Version returns the blocklist's declared version.
func (b *Blocklist) Version() string { return b.version }

// Len returns the number of entries.
func (b *Blocklist) Len() int { return len(b.entries) }

// Entries returns the entries in sorted order.
func (b *Blocklist) Entries() []string {
	out := make([]string, 0, len(b.entries))
	for e := range b.entries {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Blocked reports whether domain equals or is a subdomain of an entry.
func (b *Blocklist) Blocked(domain string) bool {
	d := cleanEntry(domain)
	for d != "" {
		if _, ok := b.entries[d]; ok {
			return true
		}
		i := strings.IndexByte(d, '.')
		if i < 0 {
			break
		}
		d = d[i+1:]
	}
	return false
}

// Keep is the filter predicate: true when domain is not blocked.
func (b *Blocklist) Keep(domain string) bool {
	return !b.Blocked(domain)
}

func cleanEntry(e string) string {
	e = strings.ToLower(strings.TrimSpace(e))
	e = strings.TrimSuffix(e, ".")
	return strings.TrimPrefix(e, "www.")
}
