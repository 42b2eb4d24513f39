package scan

import (
	"context"

	"github.com/ppiankov/wphunter/internal/models"
)

// Query narrows what the metadata source returns
type Query struct {
	Kind    models.TargetKind
	Sort    string
	PerPage int
}

// Source pages through a catalog of targets
type Source interface {
	// FetchPage returns the targets of one 1-based page and whether more pages exist
	FetchPage(ctx context.Context, page int, q Query) ([]models.TargetMetadata, bool, error)
}

// Downloader fetches a target's source code into a local directory
type Downloader interface {
	FetchSource(ctx context.Context, target models.TargetMetadata) (string, error)
}

// Analyzer inspects a local source tree
type Analyzer interface {
	AnalyzeDir(ctx context.Context, dir string) (*models.CodeAnalysisResult, error)
}

// Observer receives each emitted result. Calls are never concurrent.
type Observer interface {
	OnResult(result models.ScoredResult)
}

// RunObserver is implemented by observers that also want run boundaries
type RunObserver interface {
	Observer
	OnRunStart(sessionID string)
	OnRunEnd(report *Report)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(models.ScoredResult)

// OnResult implements Observer
func (f ObserverFunc) OnResult(r models.ScoredResult) { f(r) }

// MultiObserver fans each result out to several observers in order
type MultiObserver []Observer

// OnResult implements Observer
func (m MultiObserver) OnResult(r models.ScoredResult) {
	for _, o := range m {
		o.OnResult(r)
	}
}

// OnRunStart forwards to members that implement RunObserver
func (m MultiObserver) OnRunStart(sessionID string) {
	for _, o := range m {
		if ro, ok := o.(RunObserver); ok {
			ro.OnRunStart(sessionID)
		}
	}
}

// OnRunEnd forwards to members that implement RunObserver
func (m MultiObserver) OnRunEnd(report *Report) {
	for _, o := range m {
		if ro, ok := o.(RunObserver); ok {
			ro.OnRunEnd(report)
		}
	}
}
