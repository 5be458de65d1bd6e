// package formatter converts rotation history to export formats (CSV, Markdown, plain text, JSON)
// and reads track catalogs from CSV and JSON files
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/shared"
)

// Supported export formats
const (
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatMarkdown = "markdown"
	FormatText     = "txt"
)

// HistoryExport is a playlist together with its ledger rows, newest batch first.
type HistoryExport struct {
	Playlist models.Playlist     `json:"playlist"`
	Entries  []models.HistoryRow `json:"entries"`
}

// Batch is one rotation of a playlist.
type Batch struct {
	Tag     string
	AddedAt time.Time
	Rows    []models.HistoryRow
}

// Batches groups the export's entries by batch tag, keeping the entry order.
func (e *HistoryExport) Batches() []Batch {
	var batches []Batch
	index := make(map[string]int)
	for _, row := range e.Entries {
		i, ok := index[row.BatchTag]
		if !ok {
			i = len(batches)
			index[row.BatchTag] = i
			batches = append(batches, Batch{Tag: row.BatchTag, AddedAt: row.AddedAt})
		}
		batches[i].Rows = append(batches[i].Rows, row)
	}
	return batches
}

// ExportToCSV converts a HistoryExport to CSV format with columns: Batch, Added, Position, Track, Artist, External ID
func ExportToCSV(export *HistoryExport) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Batch", "Added", "Position", "Track", "Artist", "External ID"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, row := range export.Entries {
		record := []string{
			row.BatchTag,
			row.AddedAt.UTC().Format(time.RFC3339),
			strconv.Itoa(row.Position + 1),
			row.TrackName,
			row.Artist,
			row.ExternalID,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts a HistoryExport to Markdown with one section per batch
func ExportToMarkdown(export *HistoryExport) ([]byte, error) {
	var buf bytes.Buffer
	batches := export.Batches()

	fmt.Fprintf(&buf, "# %s\n\n", export.Playlist.Name)

	if export.Playlist.Description != "" {
		fmt.Fprintf(&buf, "**Description**: %s\n\n", export.Playlist.Description)
	}
	if export.Playlist.ExternalURL != "" {
		fmt.Fprintf(&buf, "**Link**: %s\n\n", export.Playlist.ExternalURL)
	}

	fmt.Fprintf(&buf, "**Rotations**: %d\n", len(batches))
	fmt.Fprintf(&buf, "**Status**: %s\n\n", export.Playlist.Status)

	for _, batch := range batches {
		fmt.Fprintf(&buf, "## %s (%s)\n\n", batch.Tag, batch.AddedAt.UTC().Format(time.DateOnly))
		for _, row := range batch.Rows {
			fmt.Fprintf(&buf, "%d. %s - %s\n", row.Position+1, row.Artist, row.TrackName)
		}
		buf.WriteString("\n")
	}

	return buf.Bytes(), nil
}

// ExportToText converts a HistoryExport to plain text format
func ExportToText(export *HistoryExport) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Playlist: %s\n", export.Playlist.Name)
	if export.Playlist.Description != "" {
		fmt.Fprintf(&buf, "Description: %s\n", export.Playlist.Description)
	}
	fmt.Fprintf(&buf, "Entries: %d\n", len(export.Entries))

	for _, batch := range export.Batches() {
		fmt.Fprintf(&buf, "\n[%s]\n", batch.Tag)
		for _, row := range batch.Rows {
			fmt.Fprintf(&buf, "%d. %s - %s\n", row.Position+1, row.Artist, row.TrackName)
		}
	}

	return buf.Bytes(), nil
}

// ExportToJSON converts a HistoryExport to indented JSON
func ExportToJSON(export *HistoryExport) ([]byte, error) {
	return shared.MarshalJSON(export, true)
}

// ToMetadataJSON generates a JSON representation of playlist metadata (without history)
func ToMetadataJSON(playlist models.Playlist) ([]byte, error) {
	return shared.MarshalJSON(playlist, true)
}

// CSVExportResult contains the paths of files created by WriteCSVExport
type CSVExportResult struct {
	HistoryFile  string
	MetadataFile string
}

// WriteCSVExport exports playlist history to CSV format with accompanying metadata JSON file.
//
// Defaults to playlist ID as the base filename & creates {base}_history.csv and {base}_metadata.json
func WriteCSVExport(export *HistoryExport, baseFilepath string) (*CSVExportResult, error) {
	if baseFilepath == "" {
		baseFilepath = export.Playlist.ID
	}

	csvData, err := ExportToCSV(export)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CSV: %w", err)
	}

	historyFile := baseFilepath + "_history.csv"
	if err := os.WriteFile(historyFile, csvData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write CSV file: %w", err)
	}

	metadataJSON, err := ToMetadataJSON(export.Playlist)
	if err != nil {
		return nil, fmt.Errorf("failed to generate metadata JSON: %w", err)
	}

	metadataFile := baseFilepath + "_metadata.json"
	if err := os.WriteFile(metadataFile, metadataJSON, 0644); err != nil {
		return nil, fmt.Errorf("failed to write metadata file: %w", err)
	}

	return &CSVExportResult{
		HistoryFile:  historyFile,
		MetadataFile: metadataFile,
	}, nil
}

// WriteMarkdownExport exports playlist history to {dir}/README.md.
//
// Directory name defaults to the playlist ID.
func WriteMarkdownExport(export *HistoryExport, outputDir string) (string, error) {
	if outputDir == "" {
		outputDir = export.Playlist.ID
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	mdData, err := ExportToMarkdown(export)
	if err != nil {
		return "", fmt.Errorf("failed to generate Markdown: %w", err)
	}

	mdFile := filepath.Join(outputDir, "README.md")
	if err := os.WriteFile(mdFile, mdData, 0644); err != nil {
		return "", fmt.Errorf("failed to write Markdown file: %w", err)
	}
	return mdFile, nil
}

// WriteTextExport exports playlist history to plain text format.
//
// Defaults to {playlist.ID}_history.txt as the filename.
func WriteTextExport(export *HistoryExport, path string) (string, error) {
	if path == "" {
		path = fmt.Sprintf("%s_history.txt", export.Playlist.ID)
	}

	textData, err := ExportToText(export)
	if err != nil {
		return "", fmt.Errorf("failed to generate text: %w", err)
	}

	if err := os.WriteFile(path, textData, 0644); err != nil {
		return "", fmt.Errorf("failed to write text file: %w", err)
	}
	return path, nil
}

// WriteJSONExport exports playlist history to JSON.
//
// Defaults to {playlist.ID}.json as the filename.
func WriteJSONExport(export *HistoryExport, path string) (string, error) {
	if path == "" {
		path = export.Playlist.ID + ".json"
	}

	data, err := ExportToJSON(export)
	if err != nil {
		return "", fmt.Errorf("failed to generate JSON: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write JSON file: %w", err)
	}
	return path, nil
}

// WriteExport writes export in format under dir and returns the files created.
func WriteExport(export *HistoryExport, format, dir string) ([]string, error) {
	base := filepath.Join(dir, export.Playlist.ID)

	switch format {
	case FormatCSV:
		res, err := WriteCSVExport(export, base)
		if err != nil {
			return nil, err
		}
		return []string{res.HistoryFile, res.MetadataFile}, nil
	case FormatMarkdown:
		file, err := WriteMarkdownExport(export, base)
		if err != nil {
			return nil, err
		}
		return []string{file}, nil
	case FormatText:
		file, err := WriteTextExport(export, base+"_history.txt")
		if err != nil {
			return nil, err
		}
		return []string{file}, nil
	case FormatJSON, "":
		file, err := WriteJSONExport(export, base+".json")
		if err != nil {
			return nil, err
		}
		return []string{file}, nil
	default:
		return nil, fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, format)
	}
}

// WriteManifest writes v as indented JSON to path.
func WriteManifest(v any, path string) error {
	data, err := shared.MarshalJSON(v, true)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
