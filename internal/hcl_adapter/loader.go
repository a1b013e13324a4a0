// Package hcl_adapter reads graph documents written in HCL.
//
// A document is a set of node and connect blocks, possibly spread over
// several files:
//
//	node "hall_motion" "device.state" {
//	  device = "sensor.hall"
//	}
//
//	node "hall_light" "device.action" {
//	  device  = "light.hall"
//	  command = "turn_on"
//	  args    = { level = 80 }
//	}
//
//	connect {
//	  source_id     = "hall_motion"
//	  source_socket = "on"
//	  target_id     = "hall_light"
//	  target_socket = "trigger"
//	}
//
// Node attributes become the node's JSON properties. Expressions may refer
// to environment variables through the env object (env.HOME).
package hcl_adapter

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/tickgraph/internal/ctxlog"
	"github.com/specialistvlad/tickgraph/internal/fsutil"
	"github.com/specialistvlad/tickgraph/internal/graph"
)

// Extension is the file extension of HCL graph documents.
const Extension = ".hcl"

// Loader parses HCL graph documents.
type Loader struct {
	parser *hclparse.Parser
}

// NewLoader creates a new HCL document loader.
func NewLoader() *Loader {
	return &Loader{parser: hclparse.NewParser()}
}

// fileRoot is a struct used to decode all possible top-level blocks from any file.
type fileRoot struct {
	Nodes       []*nodeBlock        `hcl:"node,block"`
	Connections []*graph.Connection `hcl:"connect,block"`
	Remain      hcl.Body            `hcl:",remain"`
}

type nodeBlock struct {
	ID   string   `hcl:"id,label"`
	Type string   `hcl:"type,label"`
	Body hcl.Body `hcl:",remain"`
}

// Load parses every .hcl file under paths and merges them into one
// normalized document. Directories are searched recursively; paths that
// do not exist are skipped.
func (l *Loader) Load(ctx context.Context, paths ...string) (*graph.Document, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := l.findAllHCLFiles(paths)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	doc := &graph.Document{}
	for _, file := range files {
		hclFile, diags := l.parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}
		if err := l.decodeInto(ctx, doc, hclFile.Body, file); err != nil {
			return nil, err
		}
	}
	if err := doc.Normalize(); err != nil {
		return nil, err
	}
	logger.Debug("HCL loading complete.", "nodes", len(doc.Nodes), "connections", len(doc.Connections))
	return doc, nil
}

// Parse decodes a single HCL document held in memory.
func (l *Loader) Parse(ctx context.Context, filename string, src []byte) (*graph.Document, error) {
	hclFile, diags := l.parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	doc := &graph.Document{}
	if err := l.decodeInto(ctx, doc, hclFile.Body, filename); err != nil {
		return nil, err
	}
	if err := doc.Normalize(); err != nil {
		return nil, err
	}
	return doc, nil
}

func (l *Loader) decodeInto(ctx context.Context, doc *graph.Document, body hcl.Body, file string) error {
	var root fileRoot
	if diags := gohcl.DecodeBody(body, nil, &root); diags.HasErrors() {
		return fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
	}
	evalCtx := newEvalContext()
	for _, n := range root.Nodes {
		spec, err := l.translateNode(ctx, evalCtx, n)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		doc.Nodes = append(doc.Nodes, spec)
	}
	for _, c := range root.Connections {
		doc.Connections = append(doc.Connections, *c)
	}
	return nil
}

// findAllHCLFiles walks all given paths and returns a flat list of all .hcl files found.
func (l *Loader) findAllHCLFiles(paths []string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, wasSeen := seen[p]; !wasSeen {
			allFiles = append(allFiles, p)
			seen[p] = struct{}{}
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue // It's not an error if a configured path doesn't exist.
			}
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}

		if info.IsDir() {
			found, err := fsutil.FindFilesByExtension(path, Extension)
			if err != nil {
				return nil, err
			}
			for _, p := range found {
				add(p)
			}
		} else if fsutil.HasExtension(path, Extension) {
			add(path)
		}
	}
	return allFiles, nil
}
