package dbpf

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/goopsie/dbpfTools/pkg/compression"
)

var (
	keyBlob   = TGI{Type: TypeSimData, Group: 0, Instance: 0x1111}
	keyString = TGI{Type: TypeStringTable, Group: 0x80000000, Instance: 0x2222}
	keyNew    = TGI{Type: TypeTuning, Group: 0, Instance: 0x3333}
)

func twoResourceArchive(t *testing.T) []byte {
	return buildArchive(t, 0,
		plain(keyBlob, []byte("0123456789")),
		deflated(t, keyString, []byte("Hello, DBPF!")),
	)
}

func TestOpen(t *testing.T) {
	t.Run("TwoResources", func(t *testing.T) {
		a := openTemp(t, twoResourceArchive(t))

		if a.Len() != 2 {
			t.Fatalf("resources: got %d, want 2", a.Len())
		}
		if major, _ := a.Version(); major != 2 {
			t.Errorf("version major: got %d", major)
		}

		rs := a.Resources()
		if got := mustExtract(t, rs[0]); string(got) != "0123456789" {
			t.Errorf("blob: got %q", got)
		}
		if got := mustExtract(t, rs[1]); string(got) != "Hello, DBPF!" {
			t.Errorf("string: got %q", got)
		}
		if !rs[1].IsCompressed() || rs[0].IsCompressed() {
			t.Errorf("compression flags: %v %v", rs[0].IsCompressed(), rs[1].IsCompressed())
		}
	})

	t.Run("ElidedIndex", func(t *testing.T) {
		keys := []TGI{
			{Type: TypeTuning, Group: 0, Instance: 1},
			{Type: TypeTuning, Group: 0, Instance: 2},
		}
		a := openTemp(t, buildArchive(t, FlagConstType|FlagConstGroup|FlagConstInstanceHi,
			plain(keys[0], []byte("first")),
			plain(keys[1], []byte("second")),
		))

		for i, r := range a.Resources() {
			if r.TGI() != keys[i] {
				t.Errorf("resource %d: got %s, want %s", i, r.TGI(), keys[i])
			}
		}
	})

	t.Run("Empty", func(t *testing.T) {
		a := openTemp(t, buildArchive(t, 0))
		if a.Len() != 0 {
			t.Errorf("resources: got %d", a.Len())
		}
	})

	t.Run("InvalidMagic", func(t *testing.T) {
		data := twoResourceArchive(t)
		copy(data, "XXXX")
		if _, err := Open(writeTemp(t, data)); !errors.Is(err, ErrInvalidMagic) {
			t.Errorf("expected ErrInvalidMagic, got %v", err)
		}
	})

	t.Run("UnsupportedVersion", func(t *testing.T) {
		data := twoResourceArchive(t)
		data[4] = 1
		if _, err := Open(writeTemp(t, data)); !errors.Is(err, ErrUnsupportedVersion) {
			t.Errorf("expected ErrUnsupportedVersion, got %v", err)
		}
	})

	t.Run("TruncatedIndex", func(t *testing.T) {
		data := twoResourceArchive(t)
		if _, err := Open(writeTemp(t, data[:len(data)-5])); !errors.Is(err, ErrCorruptedIndex) {
			t.Errorf("expected ErrCorruptedIndex, got %v", err)
		}
	})

	t.Run("EntryPastEnd", func(t *testing.T) {
		data := buildArchive(t, 0, fixture{tgi: keyBlob, raw: []byte("abc"), size: 3})
		h := &Header{}
		h.DecodeFrom(data)
		// compressed size of the only record
		data[h.IndexOffset+4+20] = 0xFF
		if _, err := Open(writeTemp(t, data)); !errors.Is(err, ErrCorruptedIndex) {
			t.Errorf("expected ErrCorruptedIndex, got %v", err)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		if _, err := Open(filepath.Join(t.TempDir(), "nope.package")); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected not-exist error, got %v", err)
		}
	})
}

func TestDuplicateTGI(t *testing.T) {
	a := openTemp(t, buildArchive(t, 0,
		plain(keyBlob, []byte("first copy")),
		plain(keyString, []byte("other")),
		plain(keyBlob, []byte("second copy")),
	))

	if a.Len() != 3 {
		t.Fatalf("resources: got %d, want 3", a.Len())
	}

	dups := a.FindAllByTGI(keyBlob)
	if len(dups) != 2 {
		t.Fatalf("duplicates: got %d, want 2", len(dups))
	}
	if got := mustExtract(t, dups[0]); string(got) != "first copy" {
		t.Errorf("first: got %q", got)
	}
	if got := mustExtract(t, dups[1]); string(got) != "second copy" {
		t.Errorf("second: got %q", got)
	}

	first, err := a.FindByTGI(keyBlob)
	if err != nil || first != dups[0] {
		t.Errorf("FindByTGI: got %v, %v", first, err)
	}
}

func TestFind(t *testing.T) {
	a := openTemp(t, twoResourceArchive(t))

	t.Run("ByTGI", func(t *testing.T) {
		r, err := a.FindByTGI(keyString)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if r.TypeName() != "StringTable" {
			t.Errorf("type name: got %s", r.TypeName())
		}
		if _, err := a.FindByTGI(keyNew); !errors.Is(err, ErrResourceNotFound) {
			t.Errorf("expected ErrResourceNotFound, got %v", err)
		}
	})

	t.Run("ByType", func(t *testing.T) {
		if rs := a.FindByType(TypeSimData); len(rs) != 1 || rs[0].TGI() != keyBlob {
			t.Errorf("got %v", rs)
		}
		if rs := a.FindByType(TypeDDS); len(rs) != 0 {
			t.Errorf("got %v", rs)
		}
	})

	t.Run("ByInstance", func(t *testing.T) {
		r, err := a.FindByInstance(0x2222)
		if err != nil || r.TGI() != keyString {
			t.Errorf("got %v, %v", r, err)
		}
		if _, err := a.FindByInstance(0x9999); !errors.Is(err, ErrResourceNotFound) {
			t.Errorf("expected ErrResourceNotFound, got %v", err)
		}
	})
}

func TestExtract(t *testing.T) {
	t.Run("Cached", func(t *testing.T) {
		a := openTemp(t, twoResourceArchive(t))
		r, _ := a.FindByTGI(keyString)

		first := mustExtract(t, r)
		second := mustExtract(t, r)
		if &first[0] != &second[0] {
			t.Error("second extract did not return the cached slice")
		}
	})

	t.Run("PartialFailure", func(t *testing.T) {
		a := openTemp(t, buildArchive(t, 0,
			plain(keyBlob, []byte("good one")),
			fixture{tgi: keyString, raw: []byte{0x10, 0xFB, 0x00, 0x00, 0x08, 0xE0, 'A', 0x84, 0x09, 0xFC}, size: 8, ct: compression.RefPack},
			deflated(t, keyNew, []byte("good two")),
		))

		bad, _ := a.FindByTGI(keyString)
		if _, err := bad.Extract(); !errors.Is(err, ErrCompression) {
			t.Fatalf("expected ErrCompression, got %v", err)
		}
		if _, err := bad.Extract(); !errors.Is(err, ErrCompression) {
			t.Errorf("failure was cached as success: %v", err)
		}

		for _, key := range []TGI{keyBlob, keyNew} {
			r, _ := a.FindByTGI(key)
			if _, err := r.Extract(); err != nil {
				t.Errorf("%s: %v", key, err)
			}
		}
	})

	t.Run("RefPack", func(t *testing.T) {
		a := openTemp(t, buildArchive(t, 0,
			fixture{tgi: keyBlob, raw: []byte{0x10, 0xFB, 0x00, 0x00, 0x08, 0xE3, 'A', 'B', 'C', 'D', 0x84, 0x03, 0xFC}, size: 8, ct: compression.RefPack},
		))
		if got := mustExtract(t, a.Resources()[0]); string(got) != "ABCDABCD" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("String", func(t *testing.T) {
		a := openTemp(t, twoResourceArchive(t))
		r, _ := a.FindByTGI(keyString)
		want := "<Resource StringTable G:80000000 I:0000000000002222 12 bytes (compressed)>"
		if r.String() != want {
			t.Errorf("got %s, want %s", r, want)
		}
	})

	t.Run("AfterClose", func(t *testing.T) {
		a := openTemp(t, twoResourceArchive(t))
		r, _ := a.FindByTGI(keyBlob)
		a.Close()
		if _, err := r.Extract(); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	})
}

func TestMutation(t *testing.T) {
	t.Run("AddThenRemoveCancels", func(t *testing.T) {
		data := twoResourceArchive(t)
		a := openTemp(t, data)
		want := contents(t, a)

		a.AddResource(keyNew, []byte("temporary"), false)
		a.RemoveResource(keyNew)
		if a.Dirty() {
			t.Error("cancelled add left archive dirty")
		}
		if err := a.Save(); err != nil {
			t.Fatalf("save: %v", err)
		}

		if !sameContents(contents(t, a), want) {
			t.Error("resource set changed")
		}
		onDisk, _ := os.ReadFile(a.Path())
		if !bytes.Equal(onDisk, data) {
			t.Error("file rewritten for a no-op")
		}
	})

	t.Run("AddDuplicateThenRemoveKeepsOriginal", func(t *testing.T) {
		a := openTemp(t, twoResourceArchive(t))
		a.AddResource(keyBlob, []byte("dup"), false)
		a.RemoveResource(keyBlob)
		if a.Dirty() {
			t.Error("expected net no-op")
		}
	})

	t.Run("RemoveMissingIsNoop", func(t *testing.T) {
		a := openTemp(t, twoResourceArchive(t))
		a.RemoveResource(keyNew)
		if a.Dirty() {
			t.Error("removing a missing key staged a change")
		}
	})

	t.Run("AddAndRemove", func(t *testing.T) {
		a := openTemp(t, twoResourceArchive(t))
		a.AddResource(keyNew, bytes.Repeat([]byte("tuning "), 100), true)
		a.RemoveResource(keyBlob)
		if !a.Dirty() {
			t.Fatal("expected dirty archive")
		}
		if len(a.Pending()) != 1 {
			t.Errorf("pending: got %d", len(a.Pending()))
		}
		if err := a.Save(); err != nil {
			t.Fatalf("save: %v", err)
		}
		if a.Dirty() {
			t.Error("save left staged state")
		}

		got := contents(t, a)
		if _, ok := got[keyBlob]; ok {
			t.Error("removed resource still present")
		}
		if string(got[keyString][0]) != "Hello, DBPF!" {
			t.Errorf("kept resource: got %q", got[keyString][0])
		}
		r, _ := a.FindByTGI(keyNew)
		if r.Compression() != compression.Deflate {
			t.Errorf("compression: got %s", r.Compression())
		}
		if !bytes.Equal(mustExtract(t, r), bytes.Repeat([]byte("tuning "), 100)) {
			t.Error("added resource mismatch")
		}
	})

	t.Run("Update", func(t *testing.T) {
		path := writeTemp(t, twoResourceArchive(t))
		a, err := Open(path)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		a.UpdateResource(keyString, []byte("Updated text"))
		if err := a.Save(); err != nil {
			t.Fatalf("save: %v", err)
		}
		a.Close()

		b, err := Open(path)
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		defer b.Close()

		if b.Len() != 2 {
			t.Errorf("resources: got %d, want 2", b.Len())
		}
		r, err := b.FindByTGI(keyString)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if got := mustExtract(t, r); string(got) != "Updated text" {
			t.Errorf("got %q", got)
		}
		if !r.IsCompressed() {
			t.Error("update dropped the original compression")
		}
		if len(b.FindAllByTGI(keyString)) != 1 {
			t.Error("update duplicated the resource")
		}
	})

	t.Run("UpdateThenRemove", func(t *testing.T) {
		a := openTemp(t, twoResourceArchive(t))
		a.UpdateResource(keyBlob, []byte("new"))
		a.RemoveResource(keyBlob)
		if err := a.Save(); err != nil {
			t.Fatalf("save: %v", err)
		}
		if _, err := a.FindByTGI(keyBlob); !errors.Is(err, ErrResourceNotFound) {
			t.Errorf("expected resource gone, got %v", err)
		}
	})

	t.Run("AddThenUpdate", func(t *testing.T) {
		a := openTemp(t, twoResourceArchive(t))
		a.AddResource(keyNew, []byte("v1"), true)
		a.UpdateResource(keyNew, []byte("v2"))

		pending := a.Pending()
		if len(pending) != 1 || string(pending[0].Data) != "v2" || pending[0].Compression != compression.Deflate {
			t.Fatalf("pending: %+v", pending)
		}
	})

	t.Run("StaleHandles", func(t *testing.T) {
		a := openTemp(t, twoResourceArchive(t))
		old, _ := a.FindByTGI(keyBlob)
		a.UpdateResource(keyBlob, []byte("replacement"))
		if err := a.Save(); err != nil {
			t.Fatalf("save: %v", err)
		}
		if _, err := old.Extract(); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed from stale handle, got %v", err)
		}
	})

	t.Run("CloseDiscards", func(t *testing.T) {
		path := writeTemp(t, twoResourceArchive(t))
		a, _ := Open(path)
		a.AddResource(keyNew, []byte("lost"), false)
		a.Close()

		b, _ := Open(path)
		defer b.Close()
		if b.Len() != 2 {
			t.Errorf("resources: got %d, want 2", b.Len())
		}
		if err := a.Save(); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	})
}

func TestBackup(t *testing.T) {
	t.Run("Once", func(t *testing.T) {
		original := twoResourceArchive(t)
		path := writeTemp(t, original)
		a, err := Open(path)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		defer a.Close()

		a.AddResource(keyNew, []byte("one"), false)
		if err := a.Save(); err != nil {
			t.Fatalf("first save: %v", err)
		}
		a.AddResource(TGI{Type: TypeTuning, Instance: 0x4444}, []byte("two"), false)
		if err := a.Save(); err != nil {
			t.Fatalf("second save: %v", err)
		}

		backup, err := os.ReadFile(path + BackupSuffix)
		if err != nil {
			t.Fatalf("read backup: %v", err)
		}
		if !bytes.Equal(backup, original) {
			t.Error("backup does not hold the pre-mutation bytes")
		}

		entries, _ := os.ReadDir(filepath.Dir(path))
		if len(entries) != 2 {
			var names []string
			for _, e := range entries {
				names = append(names, e.Name())
			}
			t.Errorf("directory: got %v, want archive and one backup", names)
		}
		if a.Len() != 4 {
			t.Errorf("resources: got %d, want 4", a.Len())
		}
	})

	t.Run("ExistingBackupKept", func(t *testing.T) {
		path := writeTemp(t, twoResourceArchive(t))
		if err := os.WriteFile(path+BackupSuffix, []byte("older backup"), 0644); err != nil {
			t.Fatal(err)
		}
		a, _ := Open(path)
		defer a.Close()
		a.MarkModified()
		if err := a.Save(); err != nil {
			t.Fatalf("save: %v", err)
		}
		backup, _ := os.ReadFile(path + BackupSuffix)
		if string(backup) != "older backup" {
			t.Error("existing backup overwritten")
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		path := writeTemp(t, twoResourceArchive(t))
		a, _ := Open(path, WithBackup(false))
		defer a.Close()
		a.RemoveResource(keyBlob)
		if err := a.Save(); err != nil {
			t.Fatalf("save: %v", err)
		}
		if _, err := os.Stat(path + BackupSuffix); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("unexpected backup: %v", err)
		}
	})

	t.Run("KeepsFileMode", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("permission bits are not preserved on windows")
		}
		path := writeTemp(t, twoResourceArchive(t))
		if err := os.Chmod(path, 0640); err != nil {
			t.Fatal(err)
		}
		a, err := Open(path)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		defer a.Close()

		a.RemoveResource(keyBlob)
		if err := a.Save(); err != nil {
			t.Fatalf("save: %v", err)
		}
		for _, p := range []string{path, path + BackupSuffix} {
			info, err := os.Stat(p)
			if err != nil {
				t.Fatalf("stat: %v", err)
			}
			if info.Mode().Perm() != 0640 {
				t.Errorf("%s: mode %v, want 0640", filepath.Base(p), info.Mode().Perm())
			}
		}
	})

	t.Run("SaveAsRebinds", func(t *testing.T) {
		path := writeTemp(t, twoResourceArchive(t))
		a, _ := Open(path)
		defer a.Close()

		target := filepath.Join(t.TempDir(), "copy.package")
		a.RemoveResource(keyBlob)
		if err := a.SaveAs(target); err != nil {
			t.Fatalf("save as: %v", err)
		}
		if a.Path() != target || a.Len() != 1 {
			t.Errorf("after save as: path %s, %d resources", a.Path(), a.Len())
		}
		if _, err := os.Stat(path + BackupSuffix); !errors.Is(err, os.ErrNotExist) {
			t.Error("save as a new path backed up the source")
		}

		src, _ := Open(path)
		defer src.Close()
		if src.Len() != 2 {
			t.Errorf("source modified: %d resources", src.Len())
		}
	})
}
