package batch

import (
	"fmt"

	"github.com/goopsie/dbpfTools/pkg/dbpf"
)

// Failure records an error for one archive or one resource within it.
type Failure struct {
	Path string
	TGI  *dbpf.TGI // nil when the archive itself failed
	Err  error
}

func (f *Failure) Error() string {
	if f.TGI == nil {
		return fmt.Sprintf("%s: %v", f.Path, f.Err)
	}
	return fmt.Sprintf("%s: %s: %v", f.Path, f.TGI, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// ExtractFunc receives each decoded resource. A returned error is recorded as a Failure
// for that resource.
type ExtractFunc func(path string, r *dbpf.Resource, data []byte) error

// Extract decodes every resource of every archive in paths and passes it to fn.
// Failures never stop the batch; they are returned in the order they occurred.
func (p *Pool) Extract(paths []string, fn ExtractFunc) []*Failure {
	var failures []*Failure
	for _, path := range paths {
		a, err := p.Get(path)
		if err != nil {
			failures = append(failures, &Failure{Path: path, Err: err})
			continue
		}

		for _, r := range a.Resources() {
			tgi := r.TGI()
			data, err := r.Extract()
			if err == nil {
				err = fn(path, r, data)
			}
			if err != nil {
				failures = append(failures, &Failure{Path: path, TGI: &tgi, Err: err})
			}
		}
	}
	return failures
}
