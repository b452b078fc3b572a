// Package store records classified live readings to daily CSV files and
// exports range query results.
package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/luki/sensordash/internal/catalog"
	"github.com/luki/sensordash/internal/classify"
	"github.com/luki/sensordash/internal/sensor"
)

const (
	dirName    = ".sensordash"
	timeLayout = "2006-01-02T15:04:05"
	fileLayout = "2006-01-02"
)

var recordHeader = []string{"time", "sensor", "reading_time", "value", "trend", "severity"}

// DiskStore appends live readings to <dir>/YYYY-MM-DD.csv:
//
//	time,sensor,reading_time,value,trend,severity
//
// A reading is written once even when it is seen by several polls.
type DiskStore struct {
	dir      string
	current  *os.File
	writer   *csv.Writer
	curDate  string
	lastSeen map[catalog.ID]string
}

// StoredReading is a single row from a recording.
type StoredReading struct {
	Time        time.Time
	Sensor      catalog.ID
	ReadingTime string
	Value       float64
	Trend       string
	Severity    string
}

// New creates a disk store in dir, creating the directory if needed. An
// empty dir means DefaultDir().
func New(dir string) (*DiskStore, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create data dir: %w", err)
	}
	return &DiskStore{dir: dir, lastSeen: make(map[catalog.ID]string)}, nil
}

// Dir returns the directory the store writes to.
func (d *DiskStore) Dir() string { return d.dir }

// Write appends the readings in states that have not been recorded yet and
// returns how many rows were written.
func (d *DiskStore) Write(states []classify.State, t time.Time) (int, error) {
	dateStr := t.Format(fileLayout)

	if d.curDate != dateStr || d.current == nil {
		d.Close()
		path := filepath.Join(d.dir, dateStr+".csv")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return 0, fmt.Errorf("disk store: %w", err)
		}
		d.current = f
		d.writer = csv.NewWriter(f)
		d.curDate = dateStr

		if info, err := f.Stat(); err == nil && info.Size() == 0 {
			d.writer.Write(recordHeader)
		}
	}
	if d.lastSeen == nil {
		d.lastSeen = make(map[catalog.ID]string)
	}

	ts := t.Format(timeLayout)
	n := 0
	for _, st := range states {
		if st.Timestamp != "" && d.lastSeen[st.ID] == st.Timestamp {
			continue
		}
		d.lastSeen[st.ID] = st.Timestamp
		d.writer.Write([]string{
			ts,
			string(st.ID),
			st.Timestamp,
			strconv.FormatFloat(st.Latest, 'f', -1, 64),
			st.Trend.String(),
			st.Severity.String(),
		})
		n++
	}
	d.writer.Flush()
	return n, d.writer.Error()
}

// Close flushes and closes the current file.
func (d *DiskStore) Close() {
	if d.writer != nil {
		d.writer.Flush()
	}
	if d.current != nil {
		d.current.Close()
		d.current = nil
	}
}

// ExportRange writes a range query result to a new CSV file in dir and
// returns its path. Values are written as the backend sent them.
func ExportRange(dir string, id catalog.ID, readings []sensor.Reading, at time.Time) (string, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("export: %w", err)
	}

	name := fmt.Sprintf("export-%s-%s.csv", id, at.Format("20060102-150405"))
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	defer f.Close()

	desc := catalog.Describe(id)
	w := csv.NewWriter(f)
	w.Write([]string{sensor.TimestampField, string(id), "label"})
	for _, r := range readings {
		label := ""
		if v, err := r.Number(); err == nil {
			label = classify.Label(desc, v)
		}
		w.Write([]string{r.Timestamp, rawValue(r), label})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	return path, nil
}

func rawValue(r sensor.Reading) string {
	s := strings.TrimSpace(string(r.Value))
	if uq, err := strconv.Unquote(s); err == nil {
		return uq
	}
	return s
}

// ListDays returns the recorded dates in dir, newest first.
func ListDays(dir string) ([]string, error) {
	if dir == "" {
		dir = DefaultDir()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var days []string
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".csv")
		if name == e.Name() {
			continue
		}
		if _, err := time.Parse(fileLayout, name); err != nil {
			continue
		}
		days = append(days, name)
	}
	slices.Sort(days)
	slices.Reverse(days)
	return days, nil
}

// LoadDay reads one day's recording from dir. A missing file is an empty
// day.
func LoadDay(dir, day string) ([]StoredReading, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	rows, err := LoadFile(filepath.Join(dir, day+".csv"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return rows, err
}

// LoadFile reads all rows of a recording.
func LoadFile(path string) ([]StoredReading, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	var readings []StoredReading
	for i, row := range records {
		if i == 0 && len(row) > 0 && row[0] == "time" {
			continue
		}
		if len(row) < len(recordHeader) {
			continue
		}

		t, err := time.ParseInLocation(timeLayout, row[0], time.Local)
		if err != nil {
			continue
		}
		v, err := strconv.ParseFloat(row[3], 64)
		if err != nil {
			continue
		}

		readings = append(readings, StoredReading{
			Time:        t,
			Sensor:      catalog.ID(row[1]),
			ReadingTime: row[2],
			Value:       v,
			Trend:       row[4],
			Severity:    row[5],
		})
	}

	return readings, nil
}

// DefaultDir returns ~/.sensordash.
func DefaultDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, dirName)
}
