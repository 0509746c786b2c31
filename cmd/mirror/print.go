package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/jacentio/trellis/collection"
)

// printer writes snapshots and values either as text or as one JSON
// object per line.
type printer struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
}

func newPrinter(w io.Writer, jsonOutput bool) *printer {
	return &printer{w: w, json: jsonOutput}
}

type jsonEntry struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type jsonSnapshot struct {
	Path    string      `json:"path"`
	Entries []jsonEntry `json:"entries"`
	Error   string      `json:"error,omitempty"`
}

type jsonValue struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
	Error string `json:"error,omitempty"`
}

func (p *printer) snapshot(path string, snap collection.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		out := jsonSnapshot{Path: path, Entries: make([]jsonEntry, 0, snap.Len())}
		for _, e := range snap.Collection {
			out.Entries = append(out.Entries, jsonEntry{Key: e.Key, Value: e.Value})
		}
		if snap.Err != nil {
			out.Error = snap.Err.Error()
		}
		p.encode(out)
		return
	}

	fmt.Fprintf(p.w, "%s (%d)\n", path, snap.Len())
	for i, e := range snap.Collection {
		fmt.Fprintf(p.w, "  %3d  %s  %s\n", i+1, e.Key, compact(e.Value))
	}
	if snap.Err != nil {
		fmt.Fprintf(p.w, "  error: %v\n", snap.Err)
	}
}

func (p *printer) value(path string, v any, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		out := jsonValue{Path: path, Value: v}
		if err != nil {
			out.Error = err.Error()
		}
		p.encode(out)
		return
	}
	if err != nil {
		fmt.Fprintf(p.w, "%s: error: %v\n", path, err)
		return
	}
	fmt.Fprintf(p.w, "%s = %s\n", path, compact(v))
}

func (p *printer) line(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.json {
		return
	}
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) encode(v any) {
	if err := json.NewEncoder(p.w).Encode(v); err != nil {
		fmt.Fprintf(p.w, "{\"error\":%q}\n", err.Error())
	}
}

func compact(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
