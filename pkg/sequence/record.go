package sequence

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/nzoschke/segmix/pkg/analysis"
	"github.com/nzoschke/segmix/pkg/segment"
)

// TrackRecord is the persisted per-track segment list.
type TrackRecord struct {
	TrackID  string          `json:"track_id"`
	TempoBPM float64         `json:"tempo_bpm"`
	Key      analysis.Key    `json:"key"`
	Segments []SegmentRecord `json:"segments"`
}

// SegmentRecord is a segment without its track id, nested in a TrackRecord.
type SegmentRecord struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Energy   float64 `json:"energy"`
	TempoBPM float64 `json:"tempo_bpm"`
}

// NewTrackRecord builds the record for an analyzed track and its segments.
func NewTrackRecord(result *analysis.Result, segs []segment.Segment) TrackRecord {
	rec := TrackRecord{
		TrackID:  result.TrackID,
		TempoBPM: result.TempoBPM,
		Key:      result.Key,
		Segments: make([]SegmentRecord, len(segs)),
	}
	for i, s := range segs {
		rec.Segments[i] = SegmentRecord{Start: s.Start, End: s.End, Energy: s.Energy, TempoBPM: s.TempoBPM}
	}
	return rec
}

// Track converts the record to sequencer input.
func (r TrackRecord) Track() Track {
	tr := Track{ID: r.TrackID, TempoBPM: r.TempoBPM, Segments: make([]segment.Segment, len(r.Segments))}
	for i, s := range r.Segments {
		tr.Segments[i] = segment.Segment{
			TrackID:  r.TrackID,
			Start:    s.Start,
			End:      s.End,
			Energy:   s.Energy,
			TempoBPM: s.TempoBPM,
		}
	}
	return tr
}

// Tracks converts records to sequencer input, keeping their order.
func Tracks(records []TrackRecord) []Track {
	tracks := make([]Track, len(records))
	for i, r := range records {
		tracks[i] = r.Track()
	}
	return tracks
}

// WriteRecords writes track records to a JSON file.
func WriteRecords(path string, records []TrackRecord) error {
	return writeJSON(path, records)
}

// ReadRecords loads track records from a JSON file.
func ReadRecords(path string) ([]TrackRecord, error) {
	var records []TrackRecord
	if err := readJSON(path, &records); err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.TrackID == "" {
			return nil, fmt.Errorf("parse %s: record without track_id", path)
		}
	}
	return records, nil
}

// WriteJSON writes the timeline to a JSON file.
func (tl Timeline) WriteJSON(path string) error {
	if tl == nil {
		tl = Timeline{}
	}
	return writeJSON(path, tl)
}

// ReadTimeline loads a timeline from a JSON file.
func ReadTimeline(path string) (Timeline, error) {
	var tl Timeline
	if err := readJSON(path, &tl); err != nil {
		return nil, err
	}
	return tl, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
