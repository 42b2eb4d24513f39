package analyzer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ppiankov/wphunter/internal/models"
)

// Config holds configuration for the analyzer
type Config struct {
	// Extension of source files to inspect, including the dot
	Extension string
	// MaxConcurrency bounds the number of files analyzed at once
	MaxConcurrency int
	// Checker detects sanitization gaps; defaults to FileScopedChecker
	Checker SanitizationChecker
	Logger  *slog.Logger
}

// Analyzer scans PHP sources for risky patterns
type Analyzer struct {
	config Config
}

// New creates an analyzer with the given configuration
func New(config Config) *Analyzer {
	if config.Extension == "" {
		config.Extension = ".php"
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 8
	}
	if config.Checker == nil {
		config.Checker = FileScopedChecker{}
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Analyzer{config: config}
}

// AnalyzeFile inspects one file. An unreadable file yields an empty result.
func (a *Analyzer) AnalyzeFile(path string) *models.CodeAnalysisResult {
	data, err := os.ReadFile(path)
	if err != nil {
		a.config.Logger.Debug("skipping unreadable file", "path", path, "error", err)
		return models.NewCodeAnalysisResult()
	}
	return a.AnalyzeContent(decode(data))
}

// AnalyzeContent inspects already-decoded source text
func (a *Analyzer) AnalyzeContent(content string) *models.CodeAnalysisResult {
	r := models.NewCodeAnalysisResult()

	matchCalls(content, dangerousCalls, models.CategoryDangerousFunctions, r)
	matchCalls(content, fileCalls, models.CategoryFileOperations, r)
	matchSubstrings(content, AjaxMarkers, models.CategoryAjaxEndpoints, r)
	matchSubstrings(content, ThemeMarkers, models.CategoryThemeFunctions, r)
	matchSubstrings(content, SQLMarkers, models.CategorySQLQueries, r)
	matchSubstrings(content, NonceMarkers, models.CategoryNonceUsage, r)

	for _, gap := range a.config.Checker.Check(content) {
		r.Add(models.CategorySanitization, gap)
	}

	return r
}

// AnalyzeDir inspects every matching file under dir and unions the findings.
// Only a missing or unwalkable root is an error; unreadable files are skipped.
func (a *Analyzer) AnalyzeDir(ctx context.Context, dir string) (*models.CodeAnalysisResult, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	files, err := a.findSourceFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to walk source directory: %w", err)
	}

	a.config.Logger.Debug("analyzing source tree", "dir", dir, "files", len(files))
	return a.analyzeFiles(ctx, files)
}

// findSourceFiles recursively finds files with the configured extension
func (a *Analyzer) findSourceFiles(root string) ([]string, error) {
	var files []string
	ext := strings.ToLower(a.config.Extension)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			// unreadable subdirectory
			return nil
		}
		if d.IsDir() || strings.ToLower(filepath.Ext(path)) != ext {
			return nil
		}
		files = append(files, path)
		return nil
	})

	return files, err
}

// analyzeFiles processes files concurrently using a worker pool
func (a *Analyzer) analyzeFiles(ctx context.Context, files []string) (*models.CodeAnalysisResult, error) {
	combined := models.NewCodeAnalysisResult()
	if len(files) == 0 {
		return combined, nil
	}

	fileCh := make(chan string)
	resultCh := make(chan *models.CodeAnalysisResult, len(files))

	workers := a.config.MaxConcurrency
	if workers > len(files) {
		workers = len(files)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range fileCh {
				resultCh <- a.AnalyzeFile(file)
			}
		}()
	}

	go func() {
		defer close(fileCh)
		for _, file := range files {
			select {
			case fileCh <- file:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	for r := range resultCh {
		combined.Merge(r)
	}

	if err := ctx.Err(); err != nil {
		return combined, err
	}
	return combined, nil
}
