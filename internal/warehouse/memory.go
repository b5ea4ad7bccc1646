package warehouse

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryFetcher is an in-memory Fetcher for tests and local development.
// Seed it with rows per detector key; FetchWindows filters by the query
// window and returns rows ordered by WindowStart.
type MemoryFetcher struct {
	mu   sync.RWMutex
	rows []WindowRow
	err  error
}

// NewMemoryFetcher returns an empty fetcher.
func NewMemoryFetcher() *MemoryFetcher {
	return &MemoryFetcher{}
}

// Seed replaces the stored rows.
func (f *MemoryFetcher) Seed(rows []WindowRow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = rows
}

// SeedSeries seeds evenly spaced windows carrying a single metric.
func (f *MemoryFetcher) SeedSeries(metric string, start time.Time, step time.Duration, values []float64) {
	rows := make([]WindowRow, len(values))
	for i, v := range values {
		ws := start.Add(time.Duration(i) * step)
		rows[i] = WindowRow{
			WindowStart: ws,
			WindowEnd:   ws.Add(step),
			Values:      map[string]float64{metric: v},
		}
	}
	f.Seed(rows)
}

// Fail makes every subsequent fetch return err. Pass nil to recover.
func (f *MemoryFetcher) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// FetchWindows returns seeded rows inside [q.From, q.To), ordered by
// WindowStart.
func (f *MemoryFetcher) FetchWindows(ctx context.Context, q Query) ([]WindowRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.err != nil {
		return nil, f.err
	}

	var out []WindowRow
	for _, row := range f.rows {
		if row.WindowStart.Before(q.From) || !row.WindowStart.Before(q.To) {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WindowStart.Before(out[j].WindowStart) })
	return out, nil
}
