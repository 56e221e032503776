package dbpf

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ScannedFile represents a file scanned from an input directory for building archives.
type ScannedFile struct {
	TGI
	Path string
	Size uint32
}

// ScanFiles walks the input directory and returns the files that map to a resource key.
// The directory structure is expected to be: <inputDir>/<type>/<group>/<instance>[.ext]
// where type is hex or a known type name, and group and instance are hex.
func ScanFiles(inputDir string) ([]ScannedFile, error) {
	var files []ScannedFile

	err := filepath.Walk(inputDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(inputDir, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}

		parts := strings.Split(filepath.ToSlash(relPath), "/")
		if len(parts) != 3 {
			return nil // Skip
		}

		tgi, ok := parseKeyPath(parts)
		if !ok {
			return nil
		}

		size := info.Size()
		const maxUint32 = int64(^uint32(0))
		if size < 0 || size > maxUint32 {
			return fmt.Errorf("file too large: %s (size %d exceeds %d bytes)", path, size, maxUint32)
		}

		files = append(files, ScannedFile{
			TGI:  tgi,
			Path: path,
			Size: uint32(size),
		})
		return nil
	})

	if err != nil {
		return nil, err
	}

	return files, nil
}

// KeyPath returns the relative path ScanFiles maps back to tgi.
func KeyPath(tgi TGI, named bool) string {
	typeDir := fmt.Sprintf("%08X", tgi.Type)
	if named {
		if name := TypeName(tgi.Type); !strings.HasPrefix(name, "Unknown_") {
			typeDir = name
		}
	}
	return filepath.Join(typeDir, fmt.Sprintf("%08X", tgi.Group), fmt.Sprintf("%016X", tgi.Instance))
}

func parseKeyPath(parts []string) (TGI, bool) {
	typeID, ok := TypeByName(parts[0])
	if !ok {
		v, err := strconv.ParseUint(parts[0], 16, 32)
		if err != nil {
			return TGI{}, false
		}
		typeID = uint32(v)
	}

	group, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return TGI{}, false
	}

	name := strings.TrimSuffix(parts[2], filepath.Ext(parts[2]))
	instance, err := strconv.ParseUint(name, 16, 64)
	if err != nil {
		return TGI{}, false
	}

	return TGI{Type: typeID, Group: uint32(group), Instance: instance}, true
}
