// Package state persists the engine's durable projection (held positions,
// trimmed price history, momentum thresholds) as JSON files. Files are
// written to a temp path and renamed into place so a crash mid-write never
// leaves a truncated state file, and they are single-writer: only the engine
// goroutine saves, and loads happen at startup only.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/domain"
)

// heldFile mirrors the held-positions file layout:
// {"held_instruments": [...], "held_details": {id: {...}}}.
type heldFile struct {
	HeldInstruments []string              `json:"held_instruments"`
	HeldDetails     map[string]heldDetail `json:"held_details"`
}

type heldDetail struct {
	Symbol       string  `json:"symbol"`
	Venue        string  `json:"venue"`
	BuyPrice     float64 `json:"buy_price"`
	HighestPrice float64 `json:"highest_price"`
	EnteredAt    int64   `json:"entered_at,omitempty"` // unix seconds
}

// historyFile mirrors the price-history file layout:
// {id: {"prices": [oldest..newest]}}.
type historyEntry struct {
	Prices []float64 `json:"prices"`
}

// thresholdEntry mirrors the thresholds file layout per instrument:
// {"start_price": .., "profit_price": ..}.
type thresholdEntry struct {
	StartPrice       float64 `json:"start_price"`
	ProfitPrice      float64 `json:"profit_price"`
	TrailingGiveback float64 `json:"trailing_giveback,omitempty"`
}

// FileStore implements domain.StateStore over three JSON files in a
// directory.
type FileStore struct {
	heldPath       string
	historyPath    string
	thresholdsPath string
}

// NewFileStore creates a FileStore rooted at dir. The directory is created if
// missing.
func NewFileStore(dir, heldFile, historyFile, thresholdsFile string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("state: create dir %s: %w", dir, err)
	}
	return &FileStore{
		heldPath:       filepath.Join(dir, heldFile),
		historyPath:    filepath.Join(dir, historyFile),
		thresholdsPath: filepath.Join(dir, thresholdsFile),
	}, nil
}

// Load reads all three files. Missing files are a valid cold start: the
// corresponding maps come back empty and no error is returned.
func (fs *FileStore) Load() (domain.PersistedState, error) {
	st := domain.PersistedState{
		Held:       make(map[string]domain.HeldPosition),
		History:    make(map[string][]float64),
		Thresholds: make(map[string]domain.Thresholds),
	}

	var held heldFile
	ok, err := readJSON(fs.heldPath, &held)
	if err != nil {
		return st, err
	}
	if ok {
		for _, id := range held.HeldInstruments {
			d, found := held.HeldDetails[id]
			if !found {
				continue
			}
			pos := domain.HeldPosition{
				Instrument:   domain.Instrument{Symbol: d.Symbol, Venue: d.Venue},
				BuyPrice:     d.BuyPrice,
				HighestPrice: d.HighestPrice,
			}
			if d.EnteredAt > 0 {
				pos.EnteredAt = time.Unix(d.EnteredAt, 0).UTC()
			}
			st.Held[id] = pos
		}
	}

	var hist map[string]historyEntry
	ok, err = readJSON(fs.historyPath, &hist)
	if err != nil {
		return st, err
	}
	if ok {
		for id, entry := range hist {
			st.History[id] = entry.Prices
		}
	}

	var thresholds map[string]thresholdEntry
	ok, err = readJSON(fs.thresholdsPath, &thresholds)
	if err != nil {
		return st, err
	}
	if ok {
		for id, entry := range thresholds {
			st.Thresholds[id] = domain.Thresholds{
				StartPrice:       entry.StartPrice,
				ProfitPrice:      entry.ProfitPrice,
				TrailingGiveback: entry.TrailingGiveback,
			}
		}
	}

	return st, nil
}

// Save writes all three files atomically (each via temp file + rename). An
// error from Save means the transition that triggered it is NOT durably
// recorded; the caller must not proceed as if it were.
func (fs *FileStore) Save(st domain.PersistedState) error {
	held := heldFile{
		HeldInstruments: make([]string, 0, len(st.Held)),
		HeldDetails:     make(map[string]heldDetail, len(st.Held)),
	}
	for id, pos := range st.Held {
		held.HeldInstruments = append(held.HeldInstruments, id)
		d := heldDetail{
			Symbol:       pos.Instrument.Symbol,
			Venue:        pos.Instrument.Venue,
			BuyPrice:     pos.BuyPrice,
			HighestPrice: pos.HighestPrice,
		}
		if !pos.EnteredAt.IsZero() {
			d.EnteredAt = pos.EnteredAt.Unix()
		}
		held.HeldDetails[id] = d
	}
	if err := writeJSON(fs.heldPath, held); err != nil {
		return err
	}

	hist := make(map[string]historyEntry, len(st.History))
	for id, prices := range st.History {
		hist[id] = historyEntry{Prices: prices}
	}
	if err := writeJSON(fs.historyPath, hist); err != nil {
		return err
	}

	thresholds := make(map[string]thresholdEntry, len(st.Thresholds))
	for id, th := range st.Thresholds {
		thresholds[id] = thresholdEntry{
			StartPrice:       th.StartPrice,
			ProfitPrice:      th.ProfitPrice,
			TrailingGiveback: th.TrailingGiveback,
		}
	}
	return writeJSON(fs.thresholdsPath, thresholds)
}

func readJSON(path string, dst any) (bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("state: read %s: %w", path, err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return false, fmt.Errorf("state: parse %s: %w", path, err)
	}
	return true, nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal %s: %w", path, err)
	}
	b = append(b, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("state: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("state: rename %s: %w", path, err)
	}
	return nil
}
