// Package importer loads bulk dumps of raw kinetic measurements into the parameter store.
package importer

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/japaniel/kinenrich/pkg/db"
)

// DumpRecord is one measurement as it appears in a dump file.
type DumpRecord struct {
	Source        string    `json:"source"`
	ECNumber      string    `json:"ec_number"`
	ParameterType string    `json:"parameter_type"`
	Value         float64   `json:"value"`
	Unit          string    `json:"unit"`
	Substrate     string    `json:"substrate"`
	Organism      string    `json:"organism"`
	Literature    string    `json:"literature"`
	Commentary    string    `json:"commentary"`
	QualityScore  *float64  `json:"quality_score"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// DefaultQualityScore applies to dump records that carry none.
const DefaultQualityScore = 0.8

// Raw converts d to a store row.
func (d DumpRecord) Raw() db.RawRecord {
	q := DefaultQualityScore
	if d.QualityScore != nil {
		q = *d.QualityScore
	}
	return db.RawRecord{
		Source:        d.Source,
		ECNumber:      d.ECNumber,
		ParameterType: d.ParameterType,
		Value:         d.Value,
		Unit:          d.Unit,
		Substrate:     d.Substrate,
		Organism:      d.Organism,
		Literature:    d.Literature,
		Commentary:    d.Commentary,
		QualityScore:  q,
		FetchedAt:     d.FetchedAt,
	}
}

// LoadRawRecords reads a dump at path. Plain .json, gzip (.gz) and gzipped tar (.tgz,
// .tar.gz) files are accepted; the JSON is either {"records": [...]} or a bare array.
func LoadRawRecords(path string) ([]db.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := readDump(f, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	dump, err := DecodeDump(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make([]db.RawRecord, len(dump))
	for i, d := range dump {
		out[i] = d.Raw()
	}
	return out, nil
}

// DecodeDump parses dump JSON in either accepted shape.
func DecodeDump(data []byte) ([]DumpRecord, error) {
	var wrapped struct {
		Records []DumpRecord `json:"records"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.Records) > 0 {
		return wrapped.Records, nil
	}
	var records []DumpRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("dump is neither an object with records nor an array: %w", err)
	}
	return records, nil
}

func readDump(r io.Reader, name string) ([]byte, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tgz"), strings.HasSuffix(lower, ".tar.gz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		return firstJSONInTar(gz)
	case strings.HasSuffix(lower, ".gz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		return io.ReadAll(gz)
	default:
		return io.ReadAll(r)
	}
}

var errNoJSONInArchive = errors.New("no json file found in archive")

func firstJSONInTar(r io.Reader) ([]byte, error) {
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil, errNoJSONInArchive
		}
		if err != nil {
			return nil, fmt.Errorf("tar: %w", err)
		}
		if header.Typeflag == tar.TypeReg && strings.HasSuffix(header.Name, ".json") {
			var buf bytes.Buffer
			if _, err := io.Copy(&buf, tr); err != nil {
				return nil, fmt.Errorf("tar entry %s: %w", header.Name, err)
			}
			return buf.Bytes(), nil
		}
	}
}
