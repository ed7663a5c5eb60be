// Package registry loads external registries (vehicle, utility, civil) and
// checks applicants against them.
package registry

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/opensource-finance/sentinel/internal/domain"
)

// Source supplies registry records.
type Source interface {
	Load(ctx context.Context) ([]domain.RegistryRecord, error)
}

// StaticSource serves records held in memory.
type StaticSource []domain.RegistryRecord

// Load implements Source.
func (s StaticSource) Load(context.Context) ([]domain.RegistryRecord, error) {
	return s, nil
}

// Header aliases mapped onto the record's identity fields. Every other
// column becomes a lower-cased attribute.
var (
	idColumns      = []string{"id", "unique_id", "citizen_id", "registration_no"}
	nameColumns    = []string{"name", "owner_name", "customer_name", "full_name"}
	addressColumns = []string{"address", "owner_address", "customer_address"}
)

// CSVSource reads a registry from a CSV file with a header row.
type CSVSource struct {
	Name string
	Path string
}

// Load implements Source. A missing file yields an empty registry.
func (s *CSVSource) Load(ctx context.Context) ([]domain.RegistryRecord, error) {
	f, err := os.Open(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("registry file not found, using empty registry",
			"registry", s.Name,
			"path", s.Path,
		)
		return []domain.RegistryRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s registry: %w", s.Name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return []domain.RegistryRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s registry header: %w", s.Name, err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	records := make([]domain.RegistryRecord, 0, 64)
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s registry line %d: %w", s.Name, line, err)
		}
		records = append(records, recordFromRow(header, row))
	}

	slog.Info("registry loaded",
		"registry", s.Name,
		"records", len(records),
	)
	return records, nil
}

func recordFromRow(header, row []string) domain.RegistryRecord {
	rec := domain.RegistryRecord{Attributes: make(map[string]string, len(header))}
	for i, col := range header {
		if i >= len(row) {
			break
		}
		v := strings.TrimSpace(row[i])
		switch {
		case rec.ID == "" && contains(idColumns, col):
			rec.ID = v
		case rec.Name == "" && contains(nameColumns, col):
			rec.Name = v
		case rec.Address == "" && contains(addressColumns, col):
			rec.Address = v
		default:
			rec.Attributes[col] = v
		}
	}
	return rec
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Registries holds the loaded reference datasets.
type Registries struct {
	Vehicles  []domain.RegistryRecord
	Utilities []domain.RegistryRecord
	Civil     []domain.RegistryRecord
}

// Sources names one source per registry.
type Sources struct {
	Vehicles  Source
	Utilities Source
	Civil     Source
}

// CSVSources builds file-backed sources from configuration.
func CSVSources(cfg domain.RegistryConfig) Sources {
	return Sources{
		Vehicles:  &CSVSource{Name: "vehicle", Path: cfg.VehiclePath},
		Utilities: &CSVSource{Name: "utility", Path: cfg.UtilityPath},
		Civil:     &CSVSource{Name: "civil", Path: cfg.CivilPath},
	}
}

// Load reads every registry. A nil source is an empty registry.
func Load(ctx context.Context, src Sources) (*Registries, error) {
	var regs Registries
	targets := []struct {
		src Source
		dst *[]domain.RegistryRecord
	}{
		{src.Vehicles, &regs.Vehicles},
		{src.Utilities, &regs.Utilities},
		{src.Civil, &regs.Civil},
	}
	for _, t := range targets {
		if t.src == nil {
			*t.dst = []domain.RegistryRecord{}
			continue
		}
		recs, err := t.src.Load(ctx)
		if err != nil {
			return nil, err
		}
		*t.dst = recs
	}
	return &regs, nil
}
