package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/goopsie/dbpfTools/pkg/dbpf"
)

// Conflicts returns every key present in more than one of paths, mapped to the paths
// that contain it in input order.
func (p *Pool) Conflicts(paths []string) (map[dbpf.TGI][]string, error) {
	owners := make(map[dbpf.TGI][]string)
	for _, path := range paths {
		a, err := p.Get(path)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", path, err)
		}
		for _, r := range a.Resources() {
			tgi := r.TGI()
			if !slices.Contains(owners[tgi], path) {
				owners[tgi] = append(owners[tgi], path)
			}
		}
	}

	for tgi, ps := range owners {
		if len(ps) < 2 {
			delete(owners, tgi)
		}
	}
	return owners, nil
}

// Merge writes the union of the archives in paths to out. For a key present in several
// inputs the last input wins, unless resolutions names the input to take it from.
// Payloads are copied as stored.
func (p *Pool) Merge(paths []string, out string, resolutions map[dbpf.TGI]string, opts ...dbpf.WriterOption) error {
	for _, path := range paths {
		if sameTarget(path, out) {
			return fmt.Errorf("merge: output %s is also an input", out)
		}
	}

	var order []dbpf.TGI
	winner := make(map[dbpf.TGI]string)
	for _, path := range paths {
		a, err := p.Get(path)
		if err != nil {
			return fmt.Errorf("merge %s: %w", path, err)
		}
		for _, r := range a.Resources() {
			tgi := r.TGI()
			if _, seen := winner[tgi]; !seen {
				order = append(order, tgi)
			}
			winner[tgi] = path
		}
	}

	for tgi, path := range resolutions {
		if _, ok := winner[tgi]; !ok {
			return fmt.Errorf("merge: resolution for %s: %w", tgi, dbpf.ErrResourceNotFound)
		}
		a, err := p.Get(path)
		if err != nil {
			return fmt.Errorf("merge: resolution for %s: %w", tgi, err)
		}
		if _, err := a.FindByTGI(tgi); err != nil {
			return fmt.Errorf("merge: resolution for %s names %s: %w", tgi, path, err)
		}
		winner[tgi] = path
	}

	return p.writeArchive(out, order, func(tgi dbpf.TGI) string { return winner[tgi] }, opts...)
}

// writeArchive copies the resource for each key in keys, taken from the archive named by
// source, into a new archive at out.
func (p *Pool) writeArchive(out string, keys []dbpf.TGI, source func(dbpf.TGI) string, opts ...dbpf.WriterOption) error {
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create %s: %w", out, err)
	}

	if err := p.copyResources(f, keys, source, opts...); err != nil {
		f.Close()
		os.Remove(out)
		return err
	}
	return f.Close()
}

func (p *Pool) copyResources(f *os.File, keys []dbpf.TGI, source func(dbpf.TGI) string, opts ...dbpf.WriterOption) error {
	w, err := dbpf.NewWriter(f, opts...)
	if err != nil {
		return err
	}

	for _, tgi := range keys {
		path := source(tgi)
		a, err := p.Get(path)
		if err != nil {
			return fmt.Errorf("reopen %s: %w", path, err)
		}
		r, err := a.FindByTGI(tgi)
		if err != nil {
			return err
		}
		raw, err := r.ReadRaw()
		if err != nil {
			return fmt.Errorf("copy from %s: %w", path, err)
		}
		if err := w.WriteRaw(r.Entry(), raw); err != nil {
			return err
		}
	}
	return w.Close()
}

func sameTarget(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
