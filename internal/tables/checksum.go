package tables

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Digest holds the hashes of an artifact file.
type Digest struct {
	MD5    string // hex, used as the import etag
	SHA256 string // "sha256:" prefixed, used in manifests and lineage
	Size   int64
}

// DigestFile streams the file through both hashes without buffering it.
func DigestFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	md5h := md5.New()
	shah := sha256.New()
	n, err := io.Copy(io.MultiWriter(md5h, shah), f)
	if err != nil {
		return Digest{}, fmt.Errorf("hash %s: %w", path, err)
	}

	return Digest{
		MD5:    hex.EncodeToString(md5h.Sum(nil)),
		SHA256: "sha256:" + hex.EncodeToString(shah.Sum(nil)),
		Size:   n,
	}, nil
}
