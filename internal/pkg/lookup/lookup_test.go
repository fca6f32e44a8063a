package lookup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinTables(t *testing.T) {
	p := New()

	tests := []struct {
		table, key, want string
	}{
		{TableIPProtocol, "6", "TCP"},
		{TableIPProtocol, "17", "UDP"},
		{"ipprotocol", "1", "ICMPv4"},
		{TableEthertype, "2048", "IPv4"},
		{TableEthertype, "0x0806", "ARP"},
		{TableLinkType, "1", "Ethernet"},
		{TableTCPFlags, "18", "SYN,ACK"},
		{TableTCPFlags, "0x11", "FIN,ACK"},
	}
	for _, tt := range tests {
		t.Run(tt.table+"/"+tt.key, func(t *testing.T) {
			got, ok := p.Lookup(tt.table, tt.key)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuiltinTables_Misses(t *testing.T) {
	p := New()

	for _, c := range []struct{ table, key string }{
		{TableIPProtocol, "300"},
		{TableIPProtocol, "abc"},
		{TableIPProtocol, "-1"},
		{TableTCPFlags, "0"},
		{"NOSUCHTABLE", "1"},
	} {
		_, ok := p.Lookup(c.table, c.key)
		assert.False(t, ok, "%s/%s", c.table, c.key)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	doc := `tables:
  modbus_function:
    "1": Read Coils
    "3": Read Holding Registers
  IPPROTOCOL:
    "6": Transmission Control Protocol
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	p := New()
	require.NoError(t, p.LoadFile(path))

	got, ok := p.Lookup("MODBUS_FUNCTION", "3")
	require.True(t, ok)
	assert.Equal(t, "Read Holding Registers", got)

	// User tables take precedence, built-ins still answer the rest
	got, _ = p.Lookup(TableIPProtocol, "6")
	assert.Equal(t, "Transmission Control Protocol", got)
	got, _ = p.Lookup(TableIPProtocol, "17")
	assert.Equal(t, "UDP", got)

	assert.Contains(t, p.Tables(), "MODBUS_FUNCTION")
	assert.Contains(t, p.Tables(), TableEthertype)
}

func TestLoadFile_Errors(t *testing.T) {
	p := New()
	assert.Error(t, p.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("tables: [1, 2"), 0o644))
	assert.Error(t, p.LoadFiles([]string{bad}))
}

func TestAddCopiesEntries(t *testing.T) {
	p := New()
	entries := map[string]string{"1": "one"}
	p.Add("numbers", entries)
	entries["1"] = "changed"

	got, ok := p.Lookup("NUMBERS", "1")
	require.True(t, ok)
	assert.Equal(t, "one", got)
}
