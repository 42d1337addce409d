package results

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/mediacheck/mediacheck/internal/errors"
	"github.com/mediacheck/mediacheck/internal/job"
)

// Format is a queue export or import encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatCSV  Format = "csv"
	// FormatText is a newline-delimited list of paths, import only.
	FormatText Format = "txt"
)

var csvHeader = []string{"File Path", "Status", "Details"}

// ParseFormat accepts a format name; the empty string means JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	case "csv":
		return FormatCSV, nil
	case "txt", "text", "list":
		return FormatText, nil
	}
	return "", errors.Wrapf(errors.ErrInvalidArgument, "unknown format %q", s)
}

// FormatFromPath picks a format from the file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	f, err := ParseFormat(filepath.Ext(path))
	if err != nil {
		return FormatJSON
	}
	return f
}

// ContentType returns the MIME type used when serving f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatYAML:
		return "application/yaml"
	case FormatTOML:
		return "application/toml"
	case FormatText:
		return "text/plain; charset=utf-8"
	}
	return "application/json"
}

// Entry is one record of a queue snapshot.
type Entry struct {
	Path    string `json:"path" yaml:"path" toml:"path"`
	Status  string `json:"status" yaml:"status" toml:"status"`
	Details string `json:"details" yaml:"details" toml:"details"`
}

type tomlDoc struct {
	Jobs []Entry `toml:"jobs"`
}

// Entries converts jobs to snapshot records, preserving order.
func Entries(jobs []*job.Job) []Entry {
	out := make([]Entry, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, Entry{Path: j.Path, Status: string(j.Status), Details: j.Details})
	}
	return out
}

// FlattenDetails joins the non-blank lines of details with " | " for
// tabular output.
func FlattenDetails(s string) string {
	var parts []string
	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " | ")
}

// WriteCSV writes the results table with a File Path,Status,Details header.
func WriteCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return errors.Wrap(err, "write csv header")
	}
	for _, e := range entries {
		if err := cw.Write([]string{e.Path, e.Status, FlattenDetails(e.Details)}); err != nil {
			return errors.Wrap(err, "write csv row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush csv")
}

// Write encodes entries in format f.
func Write(w io.Writer, f Format, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	switch f {
	case FormatCSV:
		return WriteCSV(w, entries)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			return errors.Wrap(err, "encode yaml snapshot")
		}
		return errors.Wrap(enc.Close(), "close yaml encoder")
	case FormatTOML:
		if err := toml.NewEncoder(w).Encode(tomlDoc{Jobs: entries}); err != nil {
			return errors.Wrap(err, "encode toml snapshot")
		}
		return nil
	case FormatText:
		bw := bufio.NewWriter(w)
		for _, e := range entries {
			bw.WriteString(e.Path)
			bw.WriteByte('\n')
		}
		return errors.Wrap(bw.Flush(), "write path list")
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			return errors.Wrap(err, "encode json snapshot")
		}
		return nil
	}
}

// ImportReport is the result of reading a snapshot.
type ImportReport struct {
	Entries []Entry `json:"entries"`
	// Missing counts entries whose path is no longer on disk.
	Missing int `json:"missing"`
	// Invalid counts entries with an empty path, an unknown status or, for
	// path lists, an unrecognized extension.
	Invalid    int `json:"invalid"`
	Duplicates int `json:"duplicates"`
}

// Skipped is the total number of records that were not loaded.
func (r *ImportReport) Skipped() int {
	return r.Missing + r.Invalid + r.Duplicates
}

// Import decodes a snapshot and keeps the entries whose file still exists.
// Malformed input fails with ErrImport.
func Import(r io.Reader, f Format) (*ImportReport, error) {
	raw, err := decode(r, f)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "read %s snapshot", f), errors.ErrImport)
	}

	rep := &ImportReport{}
	seen := make(map[string]bool)
	for _, e := range raw {
		e.Path = strings.TrimSpace(e.Path)
		if e.Path == "" {
			rep.Invalid++
			continue
		}
		st, err := job.ParseStatus(e.Status)
		if err != nil {
			rep.Invalid++
			continue
		}
		if st == job.StatusRunning {
			st = job.StatusQueued
			e.Details = job.DefaultDetails
		}
		e.Status = string(st)
		if seen[e.Path] {
			rep.Duplicates++
			continue
		}
		if !fileExists(e.Path) {
			rep.Missing++
			continue
		}
		seen[e.Path] = true
		rep.Entries = append(rep.Entries, e)
	}
	return rep, nil
}

func decode(r io.Reader, f Format) ([]Entry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	switch f {
	case FormatCSV:
		return decodeCSV(data)
	case FormatText:
		return decodeText(data), nil
	case FormatYAML:
		err = yaml.Unmarshal(data, &entries)
	case FormatTOML:
		var doc tomlDoc
		_, err = toml.Decode(string(data), &doc)
		entries = doc.Jobs
	default:
		err = json.Unmarshal(data, &entries)
	}
	return entries, err
}

func decodeCSV(data []byte) ([]Entry, error) {
	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for i, rec := range records {
		if i == 0 && len(rec) == len(csvHeader) && rec[0] == csvHeader[0] {
			continue
		}
		if len(rec) != len(csvHeader) {
			// counted as invalid by Import
			entries = append(entries, Entry{})
			continue
		}
		entries = append(entries, Entry{Path: rec[0], Status: rec[1], Details: rec[2]})
	}
	return entries, nil
}

func decodeText(data []byte) []Entry {
	var entries []Entry
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !IsMedia(line) {
			entries = append(entries, Entry{})
			continue
		}
		entries = append(entries, Entry{Path: line, Status: string(job.StatusQueued), Details: job.DefaultDetails})
	}
	return entries
}

// LoadFile imports the snapshot at path, choosing the format by extension.
func LoadFile(path string) (*ImportReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "open snapshot"), errors.ErrImport)
	}
	defer f.Close()
	return Import(f, FormatFromPath(path))
}

// SaveFile writes entries to path in the format matching its extension.
func SaveFile(path string, entries []Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create snapshot")
	}
	if err := Write(f, FormatFromPath(path), entries); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "close snapshot")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
