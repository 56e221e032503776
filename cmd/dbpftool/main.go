// Package main provides a command-line tool for working with DBPF package files.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/goopsie/dbpfTools/pkg/batch"
	"github.com/goopsie/dbpfTools/pkg/bundle"
	"github.com/goopsie/dbpfTools/pkg/compression"
	"github.com/goopsie/dbpfTools/pkg/dbpf"
)

var (
	mode           string
	input          string
	output         string
	prefix         string
	compress       string
	level          int
	poolSize       int
	versionMinor   uint
	showDigest     bool
	namedTypes     bool
	forceOverwrite bool
	resolutions    resolveFlag
)

var out = message.NewPrinter(language.English)

func init() {
	flag.StringVar(&mode, "mode", "", "Operation mode: info, list, extract, build, export, import, merge, split")
	flag.StringVar(&input, "input", "", "Input archive, bundle or directory (comma-separated for extract and merge)")
	flag.StringVar(&output, "output", "", "Output file or directory")
	flag.StringVar(&prefix, "prefix", "", "File name prefix for split mode (default: input base name)")
	flag.StringVar(&compress, "compress", "none", "Compression for build mode: none, deflate, refpack")
	flag.IntVar(&level, "level", bundle.DefaultCompressionLevel, "zstd compression level for export mode")
	flag.IntVar(&poolSize, "pool", batch.DefaultPoolSize, "Maximum number of archives kept open")
	flag.UintVar(&versionMinor, "minor", dbpf.DefaultVersionMinor, "Minor version written to new archives")
	flag.BoolVar(&showDigest, "digest", false, "Show blake2b digests in list mode")
	flag.BoolVar(&namedTypes, "named-types", false, "Use type names instead of hex for extracted directories")
	flag.BoolVar(&forceOverwrite, "force", false, "Allow non-empty output directory")
	flag.Var(&resolutions, "resolve", "Merge conflict resolution TYPE:GROUP:INSTANCE=path (repeatable)")
}

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := validateFlags(); err != nil {
		flag.Usage()
		return err
	}

	switch mode {
	case "info":
		return runInfo()
	case "list":
		return runList()
	case "extract":
		if err := prepareOutputDir(); err != nil {
			return err
		}
		return runExtract()
	case "build":
		return runBuild()
	case "export":
		return runExport()
	case "import":
		return runImport()
	case "merge":
		return runMerge()
	case "split":
		if err := prepareOutputDir(); err != nil {
			return err
		}
		return runSplit()
	default:
		return fmt.Errorf("unknown mode: %s", mode)
	}
}

func validateFlags() error {
	if mode == "" {
		return fmt.Errorf("mode is required")
	}
	if input == "" {
		return fmt.Errorf("input is required")
	}

	switch mode {
	case "info", "list":
	case "extract", "build", "export", "import", "merge", "split":
		if output == "" {
			return fmt.Errorf("%s mode requires -output", mode)
		}
	default:
		return fmt.Errorf("mode must be one of info, list, extract, build, export, import, merge, split")
	}

	if _, err := compression.ParseType(compress); err != nil {
		return err
	}
	if len(resolutions) > 0 && mode != "merge" {
		return fmt.Errorf("-resolve is only valid in merge mode")
	}
	return nil
}

func prepareOutputDir() error {
	if err := os.MkdirAll(output, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	if !forceOverwrite {
		empty, err := isDirEmpty(output)
		if err != nil {
			return fmt.Errorf("check output directory: %w", err)
		}
		if !empty {
			return fmt.Errorf("output directory is not empty (use -force to override)")
		}
	}

	return nil
}

func isDirEmpty(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	_, err = f.Readdir(1)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}

func inputs() []string {
	var paths []string
	for _, p := range strings.Split(input, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

func writerOptions() []dbpf.WriterOption {
	return []dbpf.WriterOption{dbpf.WithVersionMinor(uint32(versionMinor))}
}

func newPool() (*batch.Pool, error) {
	return batch.NewPool(batch.WithPoolSize(poolSize), batch.WithArchiveOptions(dbpf.WithBackup(false)))
}

func runInfo() error {
	a, err := dbpf.Open(input)
	if err != nil {
		return err
	}
	defer a.Close()

	h := a.Header()
	major, minor := a.Version()
	out.Printf("File:     %s\n", a.Path())
	out.Printf("Version:  %d.%d\n", major, minor)
	out.Printf("Entries:  %d\n", h.EntryCount)
	out.Printf("Index:    %d bytes at offset %d\n", h.IndexSize, h.IndexOffset)

	counts := make(map[uint32]int)
	var stored, size uint64
	for _, r := range a.Resources() {
		counts[r.Type()]++
		stored += uint64(r.CompressedSize())
		size += uint64(r.UncompressedSize())
	}
	out.Printf("Payload:  %d bytes stored, %d bytes decoded\n", stored, size)

	types := make([]uint32, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return counts[types[i]] > counts[types[j]] })

	fmt.Println("Types:")
	for _, t := range types {
		out.Printf("  %08X %-20s %d\n", t, dbpf.TypeName(t), counts[t])
	}
	return nil
}

func runList() error {
	a, err := dbpf.Open(input)
	if err != nil {
		return err
	}
	defer a.Close()

	var failed int
	for _, r := range a.Resources() {
		line := out.Sprintf("%s %-16s %-8s %12d", r.TGI(), r.TypeName(), r.Compression(), r.UncompressedSize())
		if showDigest {
			data, err := r.Extract()
			if err != nil {
				fmt.Fprintf(os.Stderr, "FAILED %s %s: %v\n", input, r.TGI(), err)
				failed++
				continue
			}
			line += fmt.Sprintf(" %x", bundle.Digest(data))
		}
		fmt.Println(line)
	}

	if failed > 0 {
		return fmt.Errorf("%d resources could not be read", failed)
	}
	return nil
}

func runExtract() error {
	pool, err := newPool()
	if err != nil {
		return err
	}
	defer pool.Close()

	paths := inputs()
	fmt.Println("Extracting files...")

	var written int
	var bytesOut uint64
	seen := make(map[string]int)
	failures := pool.Extract(paths, func(path string, r *dbpf.Resource, data []byte) error {
		dest := filepath.Join(output, dbpf.KeyPath(r.TGI(), namedTypes))
		if len(paths) > 1 {
			stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			dest = filepath.Join(output, stem, dbpf.KeyPath(r.TGI(), namedTypes))
		}
		if unique := extractPath(seen, dest); unique != dest {
			fmt.Printf("DUPLICATE %s %s written as %s\n", path, r.TGI(), unique)
			dest = unique
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
		if err := os.WriteFile(dest, data, 0644); err != nil {
			return fmt.Errorf("write file: %w", err)
		}
		written++
		bytesOut += uint64(len(data))
		return nil
	})

	for _, f := range failures {
		fmt.Fprintf(os.Stderr, "FAILED %v\n", f)
	}
	out.Printf("Extracted %d resources (%d bytes) to %s\n", written, bytesOut, output)

	if len(failures) > 0 {
		return fmt.Errorf("%d failures", len(failures))
	}
	return nil
}

// extractPath returns dest the first time it is seen and dest.N for the Nth repeat, so
// resources sharing a key are all kept. ScanFiles treats the suffix as an extension.
func extractPath(seen map[string]int, dest string) string {
	n := seen[dest]
	seen[dest] = n + 1
	if n == 0 {
		return dest
	}
	return fmt.Sprintf("%s.%d", dest, n)
}

func runBuild() error {
	ct, _ := compression.ParseType(compress)

	fmt.Println("Scanning input directory...")
	files, err := dbpf.ScanFiles(input)
	if err != nil {
		return fmt.Errorf("scan files: %w", err)
	}
	out.Printf("Found %d files\n", len(files))

	items := make([]dbpf.Item, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return fmt.Errorf("read %s: %w", f.Path, err)
		}
		items = append(items, dbpf.Item{TGI: f.TGI, Data: data, Compression: ct})
	}

	fmt.Println("Building package...")
	if err := dbpf.Create(output, items, writerOptions()...); err != nil {
		return fmt.Errorf("build: %w", err)
	}

	fmt.Printf("Build complete. Output written to %s\n", output)
	return nil
}

func runExport() error {
	a, err := dbpf.Open(input)
	if err != nil {
		return err
	}
	defer a.Close()

	b, failures := bundle.FromArchive(a)
	for _, err := range failures {
		fmt.Fprintf(os.Stderr, "FAILED %s %v\n", input, err)
	}

	if err := bundle.WriteFile(output, b, bundle.WithCompressionLevel(level)); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	out.Printf("Exported %d resources to %s\n", b.Len(), output)

	if len(failures) > 0 {
		return fmt.Errorf("%d resources could not be exported", len(failures))
	}
	return nil
}

func runImport() error {
	b, err := bundle.ReadFile(input)
	if err != nil {
		return err
	}
	if err := b.Verify(); err != nil {
		return fmt.Errorf("import: %w", err)
	}

	if err := b.WriteArchive(output, writerOptions()...); err != nil {
		return fmt.Errorf("import: %w", err)
	}
	out.Printf("Imported %d resources to %s\n", b.Len(), output)
	return nil
}

func runMerge() error {
	pool, err := newPool()
	if err != nil {
		return err
	}
	defer pool.Close()

	paths := inputs()
	conflicts, err := pool.Conflicts(paths)
	if err != nil {
		return err
	}

	keys := make([]dbpf.TGI, 0, len(conflicts))
	for k := range conflicts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	for _, k := range keys {
		chosen, ok := resolutions[k]
		if !ok {
			ps := conflicts[k]
			chosen = ps[len(ps)-1]
		}
		fmt.Printf("CONFLICT %s in %s, using %s\n", k, strings.Join(conflicts[k], ", "), chosen)
	}

	if err := pool.Merge(paths, output, resolutions, writerOptions()...); err != nil {
		return err
	}
	out.Printf("Merged %d archives into %s (%d conflicts)\n", len(paths), output, len(conflicts))
	return nil
}

func runSplit() error {
	pool, err := newPool()
	if err != nil {
		return err
	}
	defer pool.Close()

	p := prefix
	if p == "" {
		p = strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	}

	written, err := pool.SplitByType(input, output, p, writerOptions()...)
	for _, path := range written {
		fmt.Println(path)
	}
	if err != nil {
		return err
	}
	out.Printf("Split into %d archives\n", len(written))
	return nil
}

// resolveFlag collects -resolve TYPE:GROUP:INSTANCE=path values.
type resolveFlag map[dbpf.TGI]string

func (f *resolveFlag) String() string {
	parts := make([]string, 0, len(*f))
	for k, v := range *f {
		parts = append(parts, k.String()+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (f *resolveFlag) Set(value string) error {
	key, path, ok := strings.Cut(value, "=")
	if !ok || path == "" {
		return fmt.Errorf("want TYPE:GROUP:INSTANCE=path, got %q", value)
	}
	tgi, err := dbpf.ParseTGI(key)
	if err != nil {
		return err
	}
	if *f == nil {
		*f = make(resolveFlag)
	}
	(*f)[tgi] = path
	return nil
}
