package dbpf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/goopsie/dbpfTools/pkg/compression"
)

// BackupSuffix is appended to the archive path to name its backup copy.
const BackupSuffix = ".bak"

// Archive is an open DBPF file.
//
// Mutations are staged in memory and only reach disk on Save. An Archive owns its file
// handle exclusively and every extraction seeks that handle, so it must not be used from
// several goroutines without external locking.
type Archive struct {
	path      string
	file      *os.File
	header    Header
	resources []*Resource
	byTGI     map[TGI][]*Resource

	// Staged changes
	removed  map[TGI]struct{}
	pending  []Item
	modified bool

	backup   bool
	backedUp bool
}

// Option configures an Archive.
type Option func(*Archive)

// WithBackup controls whether the first mutating save copies the original file to
// path+BackupSuffix. Enabled by default.
func WithBackup(enabled bool) Option {
	return func(a *Archive) {
		a.backup = enabled
	}
}

// Open parses the header and index of the archive at path.
func Open(path string, opts ...Option) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	a := &Archive{
		path:    path,
		backup:  true,
		removed: make(map[TGI]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.load(f); err != nil {
		f.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) load(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat archive: %w", err)
	}

	header, err := ReadHeader(f)
	if err != nil {
		return fmt.Errorf("parse header: %w", err)
	}

	if int64(header.IndexOffset) > info.Size() {
		return fmt.Errorf("%w: index offset %d past end of file", ErrCorruptedIndex, header.IndexOffset)
	}
	if _, err := f.Seek(int64(header.IndexOffset), io.SeekStart); err != nil {
		return fmt.Errorf("seek index: %w", err)
	}

	entries, err := ReadIndex(f, header.EntryCount, header.IndexSize)
	if err != nil {
		return fmt.Errorf("parse index: %w", err)
	}

	resources := make([]*Resource, 0, len(entries))
	byTGI := make(map[TGI][]*Resource, len(entries))
	for _, entry := range entries {
		if err := entry.Validate(info.Size()); err != nil {
			return fmt.Errorf("parse index: %w", err)
		}
		r := newResource(entry, f)
		resources = append(resources, r)
		byTGI[entry.TGI] = append(byTGI[entry.TGI], r)
	}

	a.file = f
	a.header = *header
	a.resources = resources
	a.byTGI = byTGI
	return nil
}

// Close releases the file handle. Staged changes that were not saved are lost.
func (a *Archive) Close() error {
	if a.file == nil {
		return nil
	}
	a.detach()
	err := a.file.Close()
	a.file = nil
	a.Discard()
	return err
}

// detach cuts existing handles off the stream so they cannot read a replaced file.
func (a *Archive) detach() {
	for _, r := range a.resources {
		r.src = nil
	}
}

// Path returns the file the archive is bound to.
func (a *Archive) Path() string { return a.path }

// Header returns the parsed header.
func (a *Archive) Header() Header { return a.header }

// Version returns the (major, minor) format version.
func (a *Archive) Version() (major, minor uint32) { return a.header.Version() }

// Len returns the number of on-disk resources.
func (a *Archive) Len() int { return len(a.resources) }

// Resources returns the on-disk resources in index order. Duplicate keys are kept.
func (a *Archive) Resources() []*Resource {
	return slices.Clone(a.resources)
}

// FindByTGI returns the first resource with the given key.
func (a *Archive) FindByTGI(tgi TGI) (*Resource, error) {
	if rs := a.byTGI[tgi]; len(rs) > 0 {
		return rs[0], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, tgi)
}

// FindAllByTGI returns every resource with the given key in index order.
func (a *Archive) FindAllByTGI(tgi TGI) []*Resource {
	return slices.Clone(a.byTGI[tgi])
}

// FindByType returns all resources of the given type.
func (a *Archive) FindByType(typeID uint32) []*Resource {
	var out []*Resource
	for _, r := range a.resources {
		if r.entry.Type == typeID {
			out = append(out, r)
		}
	}
	return out
}

// FindByInstance returns the first resource with the given instance ID.
func (a *Archive) FindByInstance(instance uint64) (*Resource, error) {
	for _, r := range a.resources {
		if r.entry.Instance == instance {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: instance %016X", ErrResourceNotFound, instance)
}

// AddResource stages a new resource. When compress is set the payload is stored deflated.
func (a *Archive) AddResource(tgi TGI, data []byte, compress bool) {
	ct := compression.None
	if compress {
		ct = compression.Deflate
	}
	a.pending = append(a.pending, Item{TGI: tgi, Data: bytes.Clone(data), Compression: ct})
}

// RemoveResource stages removal of tgi. If tgi was staged for addition, the addition is
// dropped instead and the on-disk archive is left alone. Unknown keys are ignored.
func (a *Archive) RemoveResource(tgi TGI) {
	if a.dropPending(tgi) {
		return
	}
	if _, ok := a.byTGI[tgi]; ok {
		a.removed[tgi] = struct{}{}
	}
}

// UpdateResource stages a replacement of tgi: the on-disk entry is removed and data is
// added. The compression choice of the entry being replaced is kept.
func (a *Archive) UpdateResource(tgi TGI, data []byte) {
	compress := false
	for _, p := range a.pending {
		if p.TGI == tgi {
			compress = p.Compression.IsCompressed()
		}
	}
	if rs := a.byTGI[tgi]; len(rs) > 0 {
		compress = rs[0].IsCompressed()
		a.removed[tgi] = struct{}{}
	}

	a.dropPending(tgi)
	a.AddResource(tgi, data, compress)
}

func (a *Archive) dropPending(tgi TGI) bool {
	n := len(a.pending)
	a.pending = slices.DeleteFunc(a.pending, func(p Item) bool { return p.TGI == tgi })
	return len(a.pending) != n
}

// Pending returns the staged additions.
func (a *Archive) Pending() []Item {
	return slices.Clone(a.pending)
}

// MarkModified makes the next Save rewrite the file even with nothing staged.
func (a *Archive) MarkModified() {
	a.modified = true
}

// Dirty reports whether there are staged changes.
func (a *Archive) Dirty() bool {
	return a.modified || len(a.removed) > 0 || len(a.pending) > 0
}

// Discard drops all staged changes.
func (a *Archive) Discard() {
	clear(a.removed)
	a.pending = nil
	a.modified = false
}

// Save writes the staged changes back to the archive's own file.
func (a *Archive) Save() error {
	return a.SaveAs(a.path)
}

// SaveAs writes the final resource set to path and rebinds the archive to it. Existing
// resources are copied as stored; staged additions are encoded. The first mutating save
// over the archive's own file keeps a copy of the original at path+BackupSuffix.
func (a *Archive) SaveAs(path string) error {
	if a.file == nil {
		return ErrClosed
	}

	samePath := sameFile(path, a.path)
	if samePath && !a.Dirty() {
		return nil
	}
	if samePath && a.backup && a.Dirty() {
		if err := a.backupOnce(); err != nil {
			return fmt.Errorf("backup: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if err := a.writeTo(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := matchMode(tmp, a.file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}

	// The old handle must be closed before the file can be replaced on every platform.
	a.detach()
	a.file.Close()
	a.file = nil

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.Join(fmt.Errorf("replace archive: %w", err), a.reopen(a.path))
	}

	if !samePath {
		a.backedUp = false
	}
	a.path = path
	a.Discard()
	return a.reopen(path)
}

func (a *Archive) reopen(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("reopen archive: %w", err)
	}
	if err := a.load(f); err != nil {
		f.Close()
		return fmt.Errorf("reopen archive: %w", err)
	}
	return nil
}

func (a *Archive) writeTo(dst io.WriteSeeker) error {
	w, err := NewWriter(dst, WithVersionMinor(a.header.VersionMinor))
	if err != nil {
		return err
	}

	for _, r := range a.resources {
		if _, gone := a.removed[r.entry.TGI]; gone {
			continue
		}
		raw, err := r.ReadRaw()
		if err != nil {
			return fmt.Errorf("copy resource: %w", err)
		}
		if err := w.WriteRaw(r.entry, raw); err != nil {
			return err
		}
	}

	for _, item := range a.pending {
		if err := w.Add(item.TGI, item.Data, item.Compression); err != nil {
			return err
		}
	}

	return w.Close()
}

func (a *Archive) backupOnce() error {
	if a.backedUp {
		return nil
	}

	backupPath := a.path + BackupSuffix
	if _, err := os.Stat(backupPath); err == nil {
		a.backedUp = true
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if err := copyFile(a.path, backupPath); err != nil {
		return err
	}
	a.backedUp = true
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	if err := matchMode(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// matchMode gives dst the permission bits of src.
func matchMode(dst, src *os.File) error {
	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src.Name(), err)
	}
	if err := dst.Chmod(info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod %s: %w", dst.Name(), err)
	}
	return nil
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
