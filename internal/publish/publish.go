// Package publish writes derived, read-only digests of report pages.
package publish

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"relief-cli/internal/model"
)

type WriteOptions struct {
	Overwrite bool
	// HTML also writes a rendered .html next to the markdown.
	HTML bool
}

type WriteResult struct {
	Written []string `json:"written"`
	Reports int      `json:"reports"`
}

// FileBase names the digest of page n.
func FileBase(n int) string {
	return fmt.Sprintf("reports-page-%d", n)
}

func WritePage(p model.Page, toDir string, opt WriteOptions) (WriteResult, error) {
	toDir = strings.TrimSpace(toDir)
	if toDir == "" {
		return WriteResult{}, errors.New("missing --to")
	}
	toDir = filepath.Clean(toDir)
	if err := os.MkdirAll(toDir, 0o755); err != nil {
		return WriteResult{}, err
	}

	md := PageMarkdown(p)
	base := filepath.Join(toDir, FileBase(p.Number))
	if err := writeFile(base+".md", []byte(md), opt.Overwrite); err != nil {
		return WriteResult{}, err
	}
	res := WriteResult{Written: []string{base + ".md"}, Reports: len(p.Items)}

	if opt.HTML {
		doc, err := HTMLDocument(pageTitle(p), md)
		if err != nil {
			return WriteResult{}, err
		}
		if err := writeFile(base+".html", []byte(doc), opt.Overwrite); err != nil {
			return WriteResult{}, err
		}
		res.Written = append(res.Written, base+".html")
	}
	return res, nil
}

func writeFile(path string, b []byte, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return errors.New("file exists (use --overwrite): " + path)
		}
	}
	return os.WriteFile(path, b, 0o644)
}
