package formatter

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/shared"
)

// catalogRecord is one track in a catalog file. Popularity is optional.
type catalogRecord struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	Popularity *int   `json:"popularity"`
}

func (r catalogRecord) track() models.Track {
	return models.Track{
		ExternalID: strings.TrimPrefix(strings.TrimSpace(r.ExternalID), "spotify:track:"),
		Name:       strings.TrimSpace(r.Name),
		Artist:     strings.TrimSpace(r.Artist),
		Album:      strings.TrimSpace(r.Album),
		Popularity: r.Popularity,
		Usable:     true,
	}
}

// ParseCatalogJSON reads a JSON array of tracks.
func ParseCatalogJSON(r io.Reader) ([]models.Track, error) {
	var records []catalogRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("%w: failed to decode catalog JSON: %w", shared.ErrInvalidInput, err)
	}

	tracks := make([]models.Track, 0, len(records))
	for i, rec := range records {
		t := rec.track()
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", shared.ErrInvalidInput, i+1, err)
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// ParseCatalogCSV reads tracks from CSV with a header row. Columns are matched by name
// (external_id, name, artist, album, popularity) in any order; album and popularity are optional.
func ParseCatalogCSV(r io.Reader) ([]models.Track, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read CSV header: %w", shared.ErrInvalidInput, err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"external_id", "name", "artist"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("%w: CSV header is missing %q", shared.ErrInvalidInput, required)
		}
	}

	field := func(record []string, name string) string {
		if i, ok := columns[name]; ok && i < len(record) {
			return record[i]
		}
		return ""
	}

	var tracks []models.Track
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", shared.ErrInvalidInput, line, err)
		}

		rec := catalogRecord{
			ExternalID: field(record, "external_id"),
			Name:       field(record, "name"),
			Artist:     field(record, "artist"),
			Album:      field(record, "album"),
		}
		if v := strings.TrimSpace(field(record, "popularity")); v != "" {
			p, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: popularity %q is not a number", shared.ErrInvalidInput, line, v)
			}
			rec.Popularity = &p
		}

		t := rec.track()
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", shared.ErrInvalidInput, line, err)
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}
