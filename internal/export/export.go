// Package export downloads the filtered report spreadsheet.
package export

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"relief-cli/internal/store"

	"github.com/apex/log"
)

// FileName is the fixed name every download is saved under.
const FileName = "disaster-reports.xlsx"

type Exporter interface {
	ExportReports(ctx context.Context, keyword string) ([]byte, error)
}

type Controller struct {
	api    Exporter
	dir    string
	logger log.Interface
}

// New returns a controller that saves into dir ("" means the working directory).
func New(api Exporter, dir string, logger log.Interface) *Controller {
	if logger == nil {
		logger = log.Log
	}
	return &Controller{api: api, dir: strings.TrimSpace(dir), logger: logger}
}

// Path is where Download writes.
func (c *Controller) Path() string {
	dir := c.dir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, FileName)
}

// Export fetches the spreadsheet bytes for keyword.
func (c *Controller) Export(ctx context.Context, keyword string) ([]byte, error) {
	b, err := c.api.ExportReports(ctx, keyword)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return b, nil
}

// Download saves the spreadsheet, replacing any previous download.
func (c *Controller) Download(ctx context.Context, keyword string) (string, error) {
	b, err := c.Export(ctx, keyword)
	if err != nil {
		return "", err
	}
	path := c.Path()
	if err := store.AtomicWriteFile(path, b, 0o644); err != nil {
		return "", fmt.Errorf("export: save %s: %w", path, err)
	}
	c.logger.WithFields(log.Fields{"path": path, "bytes": len(b), "q": keyword}).Info("export saved")
	return path, nil
}
