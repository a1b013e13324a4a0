package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/specialistvlad/tickgraph/internal/ctxlog"
	"github.com/specialistvlad/tickgraph/internal/graph"
	"github.com/specialistvlad/tickgraph/internal/hcl_adapter"
)

// LoadDocument reads a graph document. A directory or a .hcl file is read
// as HCL; anything else is read as JSON.
func LoadDocument(ctx context.Context, path string) (*graph.Document, error) {
	logger := ctxlog.FromContext(ctx)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("graph document: %w", err)
	}

	if info.IsDir() || strings.EqualFold(filepath.Ext(path), hcl_adapter.Extension) {
		logger.Debug("Loading HCL graph document.", "path", path)
		doc, err := hcl_adapter.NewLoader().Load(ctx, path)
		if err != nil {
			return nil, err
		}
		if len(doc.Nodes) == 0 && info.IsDir() {
			return nil, fmt.Errorf("no graph nodes found under %s", path)
		}
		return doc, nil
	}

	logger.Debug("Loading JSON graph document.", "path", path)
	return graph.ReadFile(path)
}
