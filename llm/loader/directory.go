package loader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"kbqa/llm"
	"kbqa/llm/parser"
	"kbqa/pubsub"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultPatterns lists the globs scanned under the source directory.
var DefaultPatterns = []string{
	"**/*.txt",
	"**/*.md",
	"**/*.markdown",
	"**/*.pdf",
	"**/*.docx",
	"**/*.xlsx",
	"**/*.xls",
	"**/*.html",
	"**/*.htm",
}

// Progress is published once with the file count, once per file and once
// when the batch finishes.
type Progress struct {
	Path   string
	Done   int
	Total  int
	Loaded int
	Err    error
}

// Config configures a Directory loader.
type Config struct {
	// FS overrides the file system. When nil the source URI is opened
	// with os.DirFS.
	FS       fs.FS
	Patterns []string
	Workers  int
	Registry *parser.Registry
	Logger   *zap.Logger
	Progress pubsub.Publisher[Progress]
}

// Directory loads every supported file below a directory. Files that fail
// to read or parse are logged and skipped.
type Directory struct {
	fsys     fs.FS
	patterns []string
	workers  int
	registry *parser.Registry
	logger   *zap.Logger
	progress pubsub.Publisher[Progress]
}

var _ document.Loader = (*Directory)(nil)

// NewDirectory creates a directory loader.
func NewDirectory(cfg Config) *Directory {
	d := &Directory{
		fsys:     cfg.FS,
		patterns: cfg.Patterns,
		workers:  cfg.Workers,
		registry: cfg.Registry,
		logger:   cfg.Logger,
		progress: cfg.Progress,
	}
	if len(d.patterns) == 0 {
		d.patterns = DefaultPatterns
	}
	if d.workers <= 0 {
		d.workers = 4
	}
	if d.registry == nil {
		d.registry = parser.DefaultRegistry()
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d
}

// Load returns one document per readable file under src.URI. Output order
// is not guaranteed. The only error is failing to open the directory
// itself, or cancellation.
func (d *Directory) Load(ctx context.Context, src document.Source, opts ...document.LoaderOption) ([]*schema.Document, error) {
	root := src.URI
	fsys, err := d.open(root)
	if err != nil {
		return nil, err
	}

	paths, err := d.discover(fsys)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("discovered files", zap.String("root", root), zap.Int("files", len(paths)))
	d.publish(pubsub.CreatedEvent, Progress{Path: root, Total: len(paths)})

	var (
		mu   sync.Mutex
		docs = make([]*schema.Document, 0, len(paths))
		done atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for _, rel := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			source := filepath.Join(root, filepath.FromSlash(rel))
			doc, err := d.loadFile(gctx, fsys, rel, source)
			if err != nil {
				d.logger.Warn("skip unreadable file", zap.String("source", source), zap.Error(err))
			} else {
				mu.Lock()
				docs = append(docs, doc)
				mu.Unlock()
			}

			d.publish(pubsub.UpdatedEvent, Progress{
				Path:  source,
				Done:  int(done.Add(1)),
				Total: len(paths),
				Err:   err,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d.publish(pubsub.FinishedEvent, Progress{Done: len(paths), Total: len(paths), Loaded: len(docs)})
	d.logger.Info("documents loaded", zap.String("root", root), zap.Int("docs", len(docs)), zap.Int("files", len(paths)))
	return docs, nil
}

func (d *Directory) open(root string) (fs.FS, error) {
	if d.fsys != nil {
		if _, err := fs.Stat(d.fsys, "."); err != nil {
			return nil, fmt.Errorf("open source directory: %w", err)
		}
		return d.fsys, nil
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("open source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a directory", root)
	}
	return os.DirFS(root), nil
}

// discover expands the glob patterns and returns the unique supported
// paths in lexical order.
func (d *Directory) discover(fsys fs.FS) ([]string, error) {
	seen := make(map[string]struct{})
	for _, pattern := range d.patterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			if d.registry.Supported(m) {
				seen[m] = struct{}{}
			}
		}
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// loadFile parses one file. Parser panics on malformed input are turned
// into errors so a single file cannot take down the batch.
func (d *Directory) loadFile(ctx context.Context, fsys fs.FS, rel, source string) (doc *schema.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("parser panic: %v", r)
		}
	}()

	f, err := fsys.Open(rel)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", rel)
	}

	parsed, err := d.registry.Parse(ctx, path.Base(rel), f)
	if err != nil {
		return nil, err
	}

	ft := parser.FileTypeFromExt(path.Ext(rel)[1:])
	meta := make(map[string]any, len(parsed.Metadata)+3)
	for k, v := range parsed.Metadata {
		meta[k] = v
	}
	meta[llm.MetaSource] = source
	meta[llm.MetaFileType] = ft.String()
	meta[llm.MetaTitle] = parsed.Title

	return &schema.Document{
		ID:       source,
		Content:  parsed.Content,
		MetaData: meta,
	}, nil
}

func (d *Directory) publish(t pubsub.EventType, p Progress) {
	if d.progress != nil {
		d.progress.Publish(t, p)
	}
}
