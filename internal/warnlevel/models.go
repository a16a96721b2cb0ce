package warnlevel

import (
	"time"
)

// Level is a municipality warning level as published by the feed ("0".."4").
// The code is kept verbatim; Ordinal and Color interpret it.
type Level string

const (
	LevelUnknown  Level = "0"
	LevelLow      Level = "1"
	LevelMedium   Level = "2"
	LevelHigh     Level = "3"
	LevelVeryHigh Level = "4"
)

// Color is the traffic-light color associated with a level.
type Color string

const (
	ColorGrey   Color = "grey"
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
	ColorOrange Color = "orange"
	ColorRed    Color = "red"
)

// Ordinal returns the numeric level. Codes outside 1..4 (including the
// empty string) are reported as 0.
func (l Level) Ordinal() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	case LevelVeryHigh:
		return 4
	default:
		return 0
	}
}

// Valid reports whether l is one of the published codes "0".."4".
func (l Level) Valid() bool {
	return l == LevelUnknown || l.Ordinal() != 0
}

// Color maps the level onto the traffic light. Anything without data is grey.
func (l Level) Color() Color {
	switch l.Ordinal() {
	case 1:
		return ColorGreen
	case 2:
		return ColorYellow
	case 3:
		return ColorOrange
	case 4:
		return ColorRed
	default:
		return ColorGrey
	}
}

// Record is one municipality in a snapshot. Key is the GKZ
// (Gemeindekennzahl) and is unique within a snapshot.
type Record struct {
	Key   string `json:"gkz"`
	Name  string `json:"name"`
	Level Level  `json:"warnstufe"`
}

// RawRegion is a region entry as it appears in the upstream feed.
type RawRegion struct {
	ID        string
	Name      string
	LevelCode string
}

// RawDataset is the current dataset version decoded from the feed.
// Regions keep the order given by the source.
type RawDataset struct {
	PublishedAt time.Time
	Regions     []RawRegion
}

// Snapshot is the full, wholesale-replaced record set plus its provenance.
type Snapshot struct {
	Records     []Record
	DatasetAsOf time.Time // publication time embedded in the feed
	FetchedAt   time.Time // local time of the last successful ingestion
}

// SnapshotMeta describes the committed snapshot without its records.
type SnapshotMeta struct {
	DatasetAsOf time.Time `json:"datasetAsOf"`
	FetchedAt   time.Time `json:"fetchedAt"`
	Count       int       `json:"count"`
}

// SnapshotEvent is published after a snapshot has been committed.
type SnapshotEvent struct {
	SyncID      string    `json:"syncId"`
	DatasetAsOf time.Time `json:"datasetAsOf"`
	FetchedAt   time.Time `json:"fetchedAt"`
	Count       int       `json:"count"`
}

// BuildRecords maps raw regions 1:1 onto records, copying the level code
// verbatim. Duplicate keys resolve to the last entry in source order; the
// surviving record stays at the position where its key first appeared.
func BuildRecords(regions []RawRegion) []Record {
	return Dedupe(toRecords(regions))
}

func toRecords(regions []RawRegion) []Record {
	records := make([]Record, 0, len(regions))
	for _, r := range regions {
		records = append(records, Record{
			Key:   r.ID,
			Name:  r.Name,
			Level: Level(r.LevelCode),
		})
	}
	return records
}

// Dedupe applies last-write-wins to records sharing a key.
func Dedupe(records []Record) []Record {
	index := make(map[string]int, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if i, ok := index[r.Key]; ok {
			out[i] = r
			continue
		}
		index[r.Key] = len(out)
		out = append(out, r)
	}
	return out
}
