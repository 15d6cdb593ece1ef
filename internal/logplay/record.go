// Package logplay records simulation state to compressed logs and replays
// them. A log is a zstd stream of newline-delimited JSON entries; the first
// entry is a header carrying the world description.
package logplay

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"simhost/server/internal/physics"
	"simhost/server/internal/telemetry"
	"simhost/server/internal/world"
)

// FormatVersion is written into every header.
const FormatVersion = 1

// Extension is appended to recording file names.
const Extension = ".log.zst"

// EntryType discriminates log entries.
type EntryType string

const (
	EntryHeader EntryType = "header"
	EntryWorld  EntryType = "world"
	EntryFrame  EntryType = "frame"
)

// Entry is one line of a recording.
type Entry struct {
	Type    EntryType `json:"type"`
	ID      string    `json:"id,omitempty"`
	Version int       `json:"version,omitempty"`
	Time    time.Time `json:"time"`
	// World is the encoded description for header and world entries.
	World  string       `json:"world,omitempty"`
	Format world.Format `json:"format,omitempty"`
	Frame  *Frame       `json:"frame,omitempty"`
}

// Frame is a sampled world state.
type Frame struct {
	World      string       `json:"world"`
	Iterations uint64       `json:"iterations"`
	SimTime    float64      `json:"simTime"`
	Paused     bool         `json:"paused"`
	Models     []FrameModel `json:"models"`
}

type FrameModel struct {
	Name     string     `json:"name"`
	Position [3]float64 `json:"position"`
	Rotation [3]float64 `json:"rotation"`
}

// ErrNotRecording is returned by Record before Start.
var ErrNotRecording = errors.New("logplay: recorder not started")

// Recorder writes one recording at a time.
type Recorder struct {
	dir    string
	logger telemetry.Logger

	mu      sync.Mutex
	id      string
	path    string
	file    *os.File
	encoder *zstd.Encoder
	buf     *bufio.Writer
	json    *json.Encoder
	frames  uint64
}

func NewRecorder(dir string, logger telemetry.Logger) *Recorder {
	return &Recorder{dir: dir, logger: telemetry.OrDefault(logger)}
}

// Start opens a new recording headed by desc. It returns the file path.
// Starting an active recorder is a no-op that returns the current path.
func (r *Recorder) Start(desc *world.Description) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		return r.path, nil
	}
	text, err := world.Encode(desc, world.FormatYAML)
	if err != nil {
		return "", fmt.Errorf("encode world for recording: %w", err)
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create record directory: %w", err)
	}
	id := uuid.NewString()
	path := filepath.Join(r.dir, time.Now().UTC().Format("20060102T150405")+"-"+id[:8]+Extension)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create recording: %w", err)
	}
	encoder, err := zstd.NewWriter(file)
	if err != nil {
		file.Close()
		return "", fmt.Errorf("create zstd writer: %w", err)
	}
	r.id, r.path, r.file, r.encoder = id, path, file, encoder
	r.buf = bufio.NewWriter(encoder)
	r.json = json.NewEncoder(r.buf)
	r.frames = 0
	if err := r.writeLocked(Entry{Type: EntryHeader, ID: id, Version: FormatVersion, Time: time.Now().UTC(), World: string(text), Format: world.FormatYAML}); err != nil {
		r.closeLocked()
		return "", err
	}
	r.logger.Printf("[logplay] recording to %s", path)
	return path, nil
}

// Recording reports whether a recording is open.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file != nil
}

// Path is the active recording file, or empty.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// WorldChanged notes a reload so playback can follow it.
func (r *Recorder) WorldChanged(desc *world.Description) error {
	text, err := world.Encode(desc, world.FormatYAML)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return ErrNotRecording
	}
	return r.writeLocked(Entry{Type: EntryWorld, Time: time.Now().UTC(), World: string(text), Format: world.FormatYAML})
}

// Record appends a frame for snap.
func (r *Recorder) Record(snap physics.Snapshot) error {
	frame := &Frame{
		World:      snap.Name,
		Iterations: snap.Iterations,
		SimTime:    snap.SimTime.Seconds(),
		Paused:     snap.Paused,
		Models:     make([]FrameModel, len(snap.Models)),
	}
	for i, m := range snap.Models {
		frame.Models[i] = FrameModel{Name: m.Name, Position: m.Position, Rotation: m.Rotation}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return ErrNotRecording
	}
	r.frames++
	return r.writeLocked(Entry{Type: EntryFrame, Time: time.Now().UTC(), Frame: frame})
}

// Frames counts frames written to the active recording.
func (r *Recorder) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Stop flushes and closes the recording.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	return r.closeLocked()
}

func (r *Recorder) writeLocked(entry Entry) error {
	if err := r.json.Encode(entry); err != nil {
		return fmt.Errorf("write %s entry: %w", entry.Type, err)
	}
	return nil
}

func (r *Recorder) closeLocked() error {
	err := r.buf.Flush()
	if cerr := r.encoder.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := r.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	r.file, r.encoder, r.buf, r.json = nil, nil, nil, nil
	r.path = ""
	return err
}
