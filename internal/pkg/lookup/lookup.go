// Package lookup provides the named tables used to translate extracted
// values, such as protocol numbers to protocol names.
package lookup

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/endorses/fpengine/internal/pkg/logger"
	"github.com/google/gopacket/layers"
	"gopkg.in/yaml.v3"
)

// Built-in table names
const (
	TableIPProtocol = "IPPROTOCOL"
	TableEthertype  = "ETHERTYPE"
	TableTCPFlags   = "TCPFLAGS"
	TableLinkType   = "LINKTYPE"
)

// Provider resolves (table, key) pairs. Table names are case-insensitive.
// User tables loaded from files take precedence over built-in tables.
type Provider struct {
	mu     sync.RWMutex
	tables map[string]map[string]string
}

// New returns a provider holding only the built-in tables
func New() *Provider {
	return &Provider{tables: make(map[string]map[string]string)}
}

// Lookup translates key through table
func (p *Provider) Lookup(table, key string) (string, bool) {
	name := normalize(table)

	p.mu.RLock()
	t, ok := p.tables[name]
	p.mu.RUnlock()
	if ok {
		if v, found := t[key]; found {
			return v, true
		}
	}
	return builtin(name, key)
}

// Add installs or replaces a table
func (p *Provider) Add(table string, entries map[string]string) {
	copied := make(map[string]string, len(entries))
	for k, v := range entries {
		copied[k] = v
	}
	p.mu.Lock()
	p.tables[normalize(table)] = copied
	p.mu.Unlock()
}

// Tables lists every table name, built-in ones included
func (p *Provider) Tables() []string {
	seen := map[string]bool{
		TableIPProtocol: true,
		TableEthertype:  true,
		TableTCPFlags:   true,
		TableLinkType:   true,
	}
	p.mu.RLock()
	for name := range p.tables {
		seen[name] = true
	}
	p.mu.RUnlock()

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadFile reads tables from a YAML document of the form
//
//	tables:
//	  MODBUS_FUNCTION:
//	    "1": Read Coils
//	    "3": Read Holding Registers
func (p *Provider) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read lookup file: %w", err)
	}

	var doc struct {
		Tables map[string]map[string]string `yaml:"tables"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse lookup file %s: %w", path, err)
	}
	for name, entries := range doc.Tables {
		p.Add(name, entries)
	}

	logger.Debug("Loaded lookup tables", "file", path, "tables", len(doc.Tables))
	return nil
}

// LoadFiles loads every path in order; later files override earlier ones
func (p *Provider) LoadFiles(paths []string) error {
	for _, path := range paths {
		if err := p.LoadFile(path); err != nil {
			return err
		}
	}
	return nil
}

func normalize(table string) string {
	return strings.ToUpper(strings.TrimSpace(table))
}

// builtin answers the tables derived from the gopacket enums. Unnamed enum
// values are reported as not found rather than as gopacket's placeholder.
func builtin(table, key string) (string, bool) {
	n, err := parseKey(key)
	if err != nil {
		return "", false
	}

	var name string
	switch table {
	case TableIPProtocol:
		if n > 0xff {
			return "", false
		}
		name = layers.IPProtocol(n).String()
	case TableEthertype:
		name = layers.EthernetType(n).String()
	case TableLinkType:
		if n > 0xff {
			return "", false
		}
		name = layers.LinkType(n).String()
	case TableTCPFlags:
		name = flagNames(n)
	default:
		return "", false
	}

	if name == "" || strings.HasPrefix(name, "Unknown") {
		return "", false
	}
	return name, true
}

// parseKey accepts decimal and 0x-prefixed hexadecimal keys
func parseKey(key string) (uint64, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if rest, ok := strings.CutPrefix(key, "0x"); ok {
		return strconv.ParseUint(rest, 16, 16)
	}
	return strconv.ParseUint(key, 10, 16)
}

var flagOrder = []string{"FIN", "SYN", "RST", "PSH", "ACK", "URG", "ECE", "CWR", "NS"}

func flagNames(mask uint64) string {
	var names []string
	for i, name := range flagOrder {
		if mask&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, ",")
}
