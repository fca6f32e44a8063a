package fingerprint

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// IsDefinitionFile reports whether path has a fingerprint file extension
func IsDefinitionFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".xml":
		return true
	default:
		return false
	}
}

// LoadFile reads and parses one fingerprint file, returning the definition
// along with any element-level errors.
func LoadFile(path string, opts LoadOptions) (*Definition, []error, error) {
	// #nosec G304 -- Path is from configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read fingerprint file: %w", err)
	}

	var (
		def  *Definition
		errs []error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		def, errs, err = ParseXML(data, opts)
	default:
		def, errs, err = ParseYAML(data, opts)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	for i, e := range errs {
		errs[i] = fmt.Errorf("%s: %w", path, e)
	}
	return def, errs, nil
}

// LoadPaths loads every definition file found in paths (files or
// directories, walked recursively). Files that fail to parse and duplicate
// names are reported and skipped; the remaining definitions are returned
// sorted by name.
func LoadPaths(paths []string, opts LoadOptions) ([]*Definition, []error) {
	var (
		files []string
		errs  []error
	)
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("fingerprint path: %w", err))
			continue
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && IsDefinitionFile(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to walk %s: %w", p, err))
		}
	}

	seen := make(map[string]string)
	var defs []*Definition
	for _, f := range files {
		def, ferrs, err := LoadFile(f, opts)
		errs = append(errs, ferrs...)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if def.Name == "" {
			continue
		}
		if prev, dup := seen[def.Name]; dup {
			errs = append(errs, fmt.Errorf("%s: fingerprint %q already loaded from %s", f, def.Name, prev))
			continue
		}
		seen[def.Name] = f
		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	if len(defs) == 0 {
		errs = append(errs, ErrNoFingerprints)
	}
	return defs, errs
}
