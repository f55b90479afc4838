// Package assets holds the default index.html and style.css spec.md
// §6 says are written into a fresh document root on startup. Grounded
// on the original Rust server's static_files/{html,css}_content.rs
// (original_source), re-expressed as Go embedded files rather than
// the original's string-literal functions, since embed.FS is the
// idiomatic Go way to carry compiled-in default content and no
// embedding library appears anywhere in the retrieval pack to prefer
// over the standard one.
package assets

import (
	"embed"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

//go:embed defaults/index.html defaults/style.css
var defaults embed.FS

const (
	indexName = "index.html"
	cssName   = "style.css"
)

// Seed ensures root exists and, unless readOnly is set, writes the
// embedded default index.html and style.css into it whenever a file
// of that name is not already present. Existing files are never
// overwritten.
func Seed(root string, readOnly bool) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return errors.Wrapf(err, "assets: create document root %q", root)
	}
	if readOnly {
		return nil
	}
	if err := writeIfAbsent(root, indexName, "defaults/index.html"); err != nil {
		return err
	}
	if err := writeIfAbsent(root, cssName, "defaults/style.css"); err != nil {
		return err
	}
	return nil
}

func writeIfAbsent(root, name, embedPath string) error {
	dest := filepath.Join(root, name)
	if _, err := os.Stat(dest); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "assets: stat %q", dest)
	}

	data, err := defaults.ReadFile(embedPath)
	if err != nil {
		return errors.Wrapf(err, "assets: read embedded %q", embedPath)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return errors.Wrapf(err, "assets: write %q", dest)
	}
	return nil
}
