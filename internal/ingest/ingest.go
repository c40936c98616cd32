// Package ingest loads per-page engine output from JSON files.
package ingest

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/ocrfuse/internal/fusion"
)

//go:embed schema/*.json
var schemaFS embed.FS

// Loader decodes page files, validating each engine object on its own so
// that one bad engine does not cost the whole page.
type Loader struct {
	page   *jsonschema.Schema
	engine *jsonschema.Schema
	logger *slog.Logger
}

// NewLoader compiles the embedded schemas.
func NewLoader(logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	page, err := compileSchema("page.json")
	if err != nil {
		return nil, err
	}
	engine, err := compileSchema("engine.json")
	if err != nil {
		return nil, err
	}
	return &Loader{page: page, engine: engine, logger: logger}, nil
}

func compileSchema(name string) (*jsonschema.Schema, error) {
	data, err := schemaFS.ReadFile("schema/" + name)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("load schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

// Decode reads a single page object or an array of them. A page that fails
// validation is returned as a rejection and the rest are kept; the error is
// reserved for documents that cannot be read at all.
func (l *Loader) Decode(r io.Reader) ([]fusion.PageInput, []fusion.RejectedInput, error) {
	var doc any
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("decode page json: %w", err)
	}

	var raw []any
	switch v := doc.(type) {
	case []any:
		raw = v
	case map[string]any:
		raw = []any{v}
	default:
		return nil, nil, fmt.Errorf("page json must be an object or an array, got %T", doc)
	}

	pages := make([]fusion.PageInput, 0, len(raw))
	var rejected []fusion.RejectedInput
	for i, item := range raw {
		page, err := l.decodePage(item)
		if err != nil {
			rej := fusion.RejectedInput{Source: fmt.Sprintf("page[%d]", i), Reason: err.Error()}
			if m, ok := item.(map[string]any); ok {
				rej.PageID, _ = m["page_id"].(string)
			}
			l.logger.Warn("page rejected", "source", rej.Source, "page_id", rej.PageID, "reason", rej.Reason)
			rejected = append(rejected, rej)
			continue
		}
		pages = append(pages, page)
	}
	return pages, rejected, nil
}

func (l *Loader) decodePage(item any) (fusion.PageInput, error) {
	var page fusion.PageInput
	if err := l.page.Validate(item); err != nil {
		return page, fmt.Errorf("invalid page: %s", schemaMessage(err))
	}
	obj := item.(map[string]any)
	engines := obj["engines"].([]any)

	envelope := make(map[string]any, len(obj))
	for k, v := range obj {
		if k != "engines" {
			envelope[k] = v
		}
	}
	if err := remarshal(envelope, &page); err != nil {
		return page, err
	}

	page.Engines = make([]fusion.EngineOutput, 0, len(engines))
	for i, e := range engines {
		out, err := l.decodeEngine(e)
		if err != nil {
			id := fmt.Sprintf("engine[%d]", i)
			if m, ok := e.(map[string]any); ok {
				if s, ok := m["engine_id"].(string); ok && s != "" {
					id = s
				}
			}
			inputErr := &fusion.InputError{PageID: page.PageID, EngineID: id, Reason: err.Error()}
			l.logger.Warn("engine output rejected", "error", inputErr)
			page.Rejected = append(page.Rejected, fusion.DroppedEngine{EngineID: id, Reason: inputErr.Reason})
			continue
		}
		page.Engines = append(page.Engines, out)
	}
	return page, nil
}

func (l *Loader) decodeEngine(e any) (fusion.EngineOutput, error) {
	var out fusion.EngineOutput
	if err := l.engine.Validate(e); err != nil {
		return out, errors.New(schemaMessage(err))
	}
	obj := e.(map[string]any)
	if _, ok := obj["available"]; !ok {
		out.Available = true
	}
	if err := remarshal(obj, &out); err != nil {
		return out, err
	}
	return out, nil
}

func remarshal(in any, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// schemaMessage reduces a validation error to its first leaf cause.
func schemaMessage(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("schema: %s: %s", loc, ve.Message)
}

// LoadFile decodes one file. Relative image references are resolved
// against the file's directory, and rejected pages are sourced as
// <path>#page[i].
func (l *Loader) LoadFile(path string) ([]fusion.PageInput, []fusion.RejectedInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	pages, rejected, err := l.Decode(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for i := range pages {
		pages[i].ImageRef = resolveImageRef(dir, pages[i].ImageRef)
	}
	for i := range rejected {
		rejected[i].Source = path + "#" + rejected[i].Source
	}
	return pages, rejected, nil
}

func resolveImageRef(dir, ref string) string {
	if ref == "" || filepath.IsAbs(ref) || strings.Contains(ref, "://") || strings.HasPrefix(ref, "data:") {
		return ref
	}
	return filepath.Join(dir, ref)
}

// Result is everything loaded from a set of paths.
type Result struct {
	Files    []string
	Pages    []fusion.PageInput
	Rejected []fusion.RejectedInput
}

// Load expands directories to their .json files and loads every file in
// page order. Unreadable files, invalid pages and repeated page ids are
// collected in Rejected without stopping the load.
func (l *Loader) Load(paths []string) (*Result, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no input paths provided")
	}

	files, err := expandPaths(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no page files found in %v", paths)
	}

	res := &Result{Files: files}
	seen := make(map[string]string)
	for _, file := range files {
		pages, rejected, err := l.LoadFile(file)
		if err != nil {
			l.logger.Warn("page file rejected", "file", file, "error", err)
			res.Rejected = append(res.Rejected, fusion.RejectedInput{Source: file, Reason: err.Error()})
			continue
		}
		res.Rejected = append(res.Rejected, rejected...)
		for _, p := range pages {
			if prev, ok := seen[p.PageID]; ok {
				l.logger.Warn("duplicate page id", "page_id", p.PageID, "file", file, "first", prev)
				res.Rejected = append(res.Rejected, fusion.RejectedInput{
					Source: file,
					PageID: p.PageID,
					Reason: fmt.Sprintf("duplicate page id, first seen in %s", prev),
				})
				continue
			}
			seen[p.PageID] = file
			res.Pages = append(res.Pages, p)
		}
		l.logger.Debug("loaded page file", "file", filepath.Base(file), "pages", len(pages))
	}
	l.logger.Info("pages loaded", "files", len(files), "pages", len(res.Pages), "rejected", len(res.Rejected))
	return res, nil
}

func expandPaths(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("input not found: %s", p)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(p, "*.json"))
		if err != nil {
			return nil, err
		}
		files = append(files, sortPageFiles(matches)...)
	}
	return files, nil
}

var pageNumber = regexp.MustCompile(`[-_](\d+)\.json$`)

// sortPageFiles sorts page files by their numeric suffix.
// e.g., ["page-2.json", "page-1.json", "page-10.json"] -> ["page-1.json", "page-2.json", "page-10.json"]
func sortPageFiles(paths []string) []string {
	sorted := make([]string, len(paths))
	copy(sorted, paths)

	sort.SliceStable(sorted, func(i, j int) bool {
		mi := pageNumber.FindStringSubmatch(sorted[i])
		mj := pageNumber.FindStringSubmatch(sorted[j])

		if len(mi) > 1 && len(mj) > 1 {
			ni, _ := strconv.Atoi(mi[1])
			nj, _ := strconv.Atoi(mj[1])
			if ni != nj {
				return ni < nj
			}
			return sorted[i] < sorted[j]
		}

		// Files without numbers come first
		if len(mi) > 1 {
			return false
		}
		if len(mj) > 1 {
			return true
		}
		return sorted[i] < sorted[j]
	})

	return sorted
}
