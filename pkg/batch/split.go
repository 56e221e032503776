package batch

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/goopsie/dbpfTools/pkg/dbpf"
)

// SplitByType writes one archive per resource type found in path, named
// <prefix>_<TypeName>.package inside outDir. Types appear in order of first occurrence;
// the written paths are returned in the same order.
func (p *Pool) SplitByType(path, outDir, prefix string, opts ...dbpf.WriterOption) ([]string, error) {
	a, err := p.Get(path)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", path, err)
	}

	var types []uint32
	byType := make(map[uint32][]dbpf.TGI)
	for _, r := range a.Resources() {
		t := r.Type()
		if _, ok := byType[t]; !ok {
			types = append(types, t)
		}
		// Duplicate keys collapse to their first entry.
		if !slices.Contains(byType[t], r.TGI()) {
			byType[t] = append(byType[t], r.TGI())
		}
	}

	from := func(dbpf.TGI) string { return path }
	written := make([]string, 0, len(types))
	for _, t := range types {
		out := filepath.Join(outDir, fmt.Sprintf("%s_%s.package", prefix, dbpf.TypeName(t)))
		if err := p.writeArchive(out, byType[t], from, opts...); err != nil {
			return written, fmt.Errorf("split %s: %w", dbpf.TypeName(t), err)
		}
		written = append(written, out)
	}
	return written, nil
}
