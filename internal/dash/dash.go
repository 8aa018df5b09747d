package dash

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/you/spread-bot/internal/types"
)

// Row is the JSON view of the last cycle.
type Row struct {
	Seq       uint64            `json:"seq"`
	Pair      string            `json:"pair"`
	Status    types.CycleStatus `json:"status"`
	Prices    map[string]string `json:"prices,omitempty"`
	Spread    string            `json:"spread,omitempty"`
	Profit    string            `json:"estimatedProfit,omitempty"`
	Threshold bool              `json:"thresholdMet"`
	Errors    []string          `json:"errors,omitempty"`
	TS        int64             `json:"ts"`
}

type Store struct {
	mu   sync.RWMutex
	last *Row
	opps uint64
}

func NewStore() *Store { return &Store{} }

// Report implements the bot reporter contract.
func (s *Store) Report(_ context.Context, r types.CycleReport) error {
	s.Update(r)
	return nil
}

func (s *Store) Update(r types.CycleReport) {
	row := Row{
		Seq:    r.Seq,
		Pair:   r.Pair.String(),
		Status: r.Status,
		TS:     r.Finished.UnixMilli(),
	}
	if len(r.Quotes) > 0 {
		row.Prices = make(map[string]string, len(r.Quotes))
		for _, q := range r.Quotes {
			row.Prices[string(q.Venue)] = q.OutputAmount.String()
		}
	}
	if r.Decision != nil {
		row.Spread = r.Decision.Spread.String()
		row.Profit = r.Decision.EstimatedProfit.String()
		row.Threshold = r.Decision.ThresholdMet
	}
	for _, e := range r.Errors {
		row.Errors = append(row.Errors, string(e.Venue)+": "+e.Msg)
	}

	s.mu.Lock()
	s.last = &row
	if r.Opportunity() {
		s.opps++
	}
	s.mu.Unlock()
}

func (s *Store) Last() (Row, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return Row{}, false
	}
	return *s.last, true
}

func (s *Store) Opportunities() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opps
}

// Handler serves the last row; 503 until the first cycle completes.
func (s *Store) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		row, ok := s.Last()
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "starting", "now": time.Now().UTC().Format(time.RFC3339)})
			return
		}
		_ = json.NewEncoder(w).Encode(struct {
			Row
			Opportunities uint64 `json:"opportunities"`
		}{row, s.Opportunities()})
	})
}
