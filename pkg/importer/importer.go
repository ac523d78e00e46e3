package importer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/japaniel/kinenrich/pkg/db"
	"github.com/japaniel/kinenrich/pkg/logging"
)

// RawStore is the slice of paramstore.Store the importer writes through.
type RawStore interface {
	TxRunner
	ValidateRawRecord(r db.RawRecord) (db.RawRecord, error)
	InsertRawRecordsTx(tx *sql.Tx, records []db.RawRecord) (int, error)
	ComputeStatistics(ctx context.Context, ec, paramType, organism, substrate string) (*db.Statistics, error)
}

// DefaultChunkSize is the number of records committed per transaction.
const DefaultChunkSize = 500

// Options configure an Importer.
type Options struct {
	ChunkSize     int
	FlushInterval time.Duration
	Logger        *logging.Logger
}

// Report summarises one Import.
type Report struct {
	Offered    int      `json:"offered"`
	Inserted   int      `json:"inserted"`
	Duplicates int      `json:"duplicates"`
	Invalid    int      `json:"invalid"`
	Statistics int      `json:"statistics_refreshed"`
	Errors     []string `json:"errors,omitempty"`
}

// Importer writes raw records in chunked transactions and refreshes the statistics they touch.
type Importer struct {
	store     RawStore
	chunkSize int
	interval  time.Duration
	log       *logging.Logger
}

// New creates an Importer over store.
func New(store RawStore, opts Options) *Importer {
	im := &Importer{
		store:     store,
		chunkSize: opts.ChunkSize,
		interval:  opts.FlushInterval,
		log:       logging.OrNop(opts.Logger),
	}
	if im.chunkSize <= 0 {
		im.chunkSize = DefaultChunkSize
	}
	return im
}

type statKey struct {
	ec, paramType, organism string
}

// Import validates records, skipping invalid ones, and inserts the rest. Duplicates of
// stored rows are counted, not reported as errors. A failing chunk rolls back on its own;
// chunks committed before it stay and the error is returned after the remaining chunks ran.
func (im *Importer) Import(ctx context.Context, records []db.RawRecord) (Report, error) {
	rep := Report{Offered: len(records)}
	touched := make(map[statKey]struct{})

	var (
		mu       sync.Mutex
		staged   int
		inserted int
	)
	bw := NewBatchWriter(im.store, im.chunkSize, im.interval)
	bw.OnCommit = func(int) {
		mu.Lock()
		inserted += staged
		staged = 0
		mu.Unlock()
	}
	bw.OnError = func(err error) {
		mu.Lock()
		staged = 0
		mu.Unlock()
		im.log.Warn("import chunk rolled back", "error", err)
	}

	var submitErr error
	for i, r := range records {
		if err := ctx.Err(); err != nil {
			submitErr = err
			break
		}
		clean, err := im.store.ValidateRawRecord(r)
		if err != nil {
			rep.Invalid++
			rep.Errors = append(rep.Errors, fmt.Sprintf("record %d: %v", i, err))
			continue
		}
		touched[statKey{clean.ECNumber, clean.ParameterType, ""}] = struct{}{}
		if clean.Organism != "" {
			touched[statKey{clean.ECNumber, clean.ParameterType, clean.Organism}] = struct{}{}
		}
		err = bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
			n, err := im.store.InsertRawRecordsTx(tx, []db.RawRecord{clean})
			if err != nil {
				return err
			}
			mu.Lock()
			staged += n
			mu.Unlock()
			return nil
		})
		if err != nil {
			submitErr = err
			break
		}
	}
	writeErr := bw.Close()
	rep.Inserted = inserted
	rep.Duplicates = rep.Offered - rep.Invalid - rep.Inserted
	if submitErr != nil || writeErr != nil {
		rep.Duplicates = 0
		return rep, errors.Join(submitErr, writeErr)
	}

	keys := make([]statKey, 0, len(touched))
	for k := range touched {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.ec != b.ec {
			return a.ec < b.ec
		}
		if a.paramType != b.paramType {
			return a.paramType < b.paramType
		}
		return a.organism < b.organism
	})
	for _, k := range keys {
		if _, err := im.store.ComputeStatistics(ctx, k.ec, k.paramType, k.organism, ""); err != nil {
			return rep, fmt.Errorf("refresh statistics %s %s: %w", k.ec, k.paramType, err)
		}
		rep.Statistics++
	}
	im.log.Info("import finished", "offered", rep.Offered, "inserted", rep.Inserted,
		"duplicates", rep.Duplicates, "invalid", rep.Invalid, "statistics", rep.Statistics)
	return rep, nil
}
