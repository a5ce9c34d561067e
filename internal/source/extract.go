package source

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/zip"
)

// Table file names inside the GeoLite2 City CSV archive.
const (
	BlocksIPv4File = "GeoLite2-City-Blocks-IPv4.csv"
	BlocksIPv6File = "GeoLite2-City-Blocks-IPv6.csv"
	LocationsFile  = "GeoLite2-City-Locations-en.csv"
)

// DefaultFiles is the set Extract pulls out of the archive by default.
var DefaultFiles = []string{
	BlocksIPv4File,
	BlocksIPv6File,
	LocationsFile,
	"COPYRIGHT.txt",
	"LICENSE.txt",
	"README.md",
}

// Extract copies the named files out of the zip at zipPath into dstDir.
// Archive entries are matched by base name, so the versioned top-level
// directory MaxMind wraps them in is dropped. It returns base name to
// extracted path for each file found; missing names are not an error.
func Extract(zipPath, dstDir string, names []string) (map[string]string, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", zipPath, err)
	}
	defer zr.Close()

	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dstDir, err)
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	out := make(map[string]string, len(names))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		base := path.Base(f.Name)
		if !wanted[base] {
			continue
		}
		dst := filepath.Join(dstDir, base)
		if err := extractFile(f, dst); err != nil {
			return nil, fmt.Errorf("extract %s: %w", f.Name, err)
		}
		out[base] = dst
	}
	return out, nil
}

func extractFile(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	w, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rc); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
