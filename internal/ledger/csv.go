package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const fullLogName = "attendance_log.csv"

// CSVStore writes the two tabular views into a directory: the full log and one
// file per session label and date.
type CSVStore struct {
	dir string
}

func NewCSVStore(dir string) (*CSVStore, error) {
	if dir == "" {
		return nil, errors.New("ledger directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}
	return &CSVStore{dir: dir}, nil
}

// FullPath is the path of the full log.
func (s *CSVStore) FullPath() string {
	return filepath.Join(s.dir, fullLogName)
}

// SessionPath is the path of the view for one session label and date.
func (s *CSVStore) SessionPath(label, date string) string {
	return filepath.Join(s.dir, fmt.Sprintf("attendance_%s_%s.csv", sanitizeLabel(label), date))
}

func (s *CSVStore) Write(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeCSVFile(s.FullPath(), snap.All); err != nil {
		return err
	}
	if len(snap.Session) == 0 {
		return nil
	}
	return writeCSVFile(s.SessionPath(snap.SessionLabel, snap.Date), snap.Session)
}

// Load reads the full log. A missing file yields no events.
func (s *CSVStore) Load(ctx context.Context) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.FullPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", s.FullPath(), err)
	}
	defer f.Close()

	return ReadCSV(f)
}

// ReadCSV parses a tabular export, header included.
func ReadCSV(r io.Reader) ([]Event, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Columns)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if strings.Join(header, ",") != strings.Join(Columns, ",") {
		return nil, fmt.Errorf("unexpected header %v", header)
	}

	var events []Event
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		e, err := ParseRecord(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// WriteCSV writes events as a tabular export, header included.
func WriteCSV(w io.Writer, events []Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, e := range events {
		if err := cw.Write(e.Record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeCSVFile replaces path atomically so readers never see a partial file.
func writeCSVFile(path string, events []Event) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".attendance-*.csv")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after successful rename

	if err := WriteCSV(tmp, events); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

func sanitizeLabel(label string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, label)
}
