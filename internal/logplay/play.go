package logplay

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// ErrNoHeader is returned when a log does not start with a header entry.
var ErrNoHeader = errors.New("logplay: missing header")

// Player reads a recording entry by entry.
type Player struct {
	file    *os.File
	decoder *zstd.Decoder
	scanner *bufio.Scanner
	header  Entry
	sent    bool
}

// Open reads the header of the recording at path.
func Open(path string) (*Player, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	decoder, err := zstd.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("open zstd stream: %w", err)
	}
	scanner := bufio.NewScanner(decoder)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	p := &Player{file: file, decoder: decoder, scanner: scanner}

	entry, err := p.next()
	if err != nil {
		p.Close()
		if errors.Is(err, io.EOF) {
			return nil, ErrNoHeader
		}
		return nil, err
	}
	if entry.Type != EntryHeader {
		p.Close()
		return nil, ErrNoHeader
	}
	if entry.Version > FormatVersion {
		p.Close()
		return nil, fmt.Errorf("logplay: unsupported log version %d", entry.Version)
	}
	p.header = entry
	return p, nil
}

// Header is the first entry of the log.
func (p *Player) Header() Entry {
	return p.header
}

// Step returns the next entry. The first call yields the header, whose World
// field holds the description to load. io.EOF marks the end of the log.
func (p *Player) Step() (Entry, error) {
	if !p.sent {
		p.sent = true
		return p.header, nil
	}
	return p.next()
}

func (p *Player) next() (Entry, error) {
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return Entry{}, fmt.Errorf("read log: %w", err)
		}
		return Entry{}, io.EOF
	}
	var entry Entry
	if err := json.Unmarshal(p.scanner.Bytes(), &entry); err != nil {
		return Entry{}, fmt.Errorf("decode log entry: %w", err)
	}
	return entry, nil
}

func (p *Player) Close() error {
	if p.decoder != nil {
		p.decoder.Close()
		p.decoder = nil
	}
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}
