// Command probe-replay is a probe plugin that replays a recorded signal
// script. Each line of the file named by DWELL_PROBE_SCRIPT is a JSON array
// of signals; every Poll delivers the next line.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"dwell/internal/modules/activity/adapter/out/probe"
)

type server struct {
	mu      sync.Mutex
	batches [][]probe.Signal
	next    int
	tab     probe.Tab
}

func load(path string) ([][]probe.Signal, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var batches [][]probe.Signal
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var batch []probe.Signal
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		batches = append(batches, batch)
	}
	return batches, scanner.Err()
}

func (s *server) GetMetadata(context.Context, *probe.Empty) (*probe.Metadata, error) {
	return &probe.Metadata{Name: "probe-replay", Version: "1.0.0"}, nil
}

func (s *server) ActiveTab(context.Context, *probe.Empty) (*probe.Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab := s.tab
	return &tab, nil
}

func (s *server) Poll(context.Context, *probe.Empty) (*probe.PollResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.batches) {
		return &probe.PollResponse{}, nil
	}
	batch := s.batches[s.next]
	s.next++
	for _, sig := range batch {
		s.observe(sig)
	}
	return &probe.PollResponse{Signals: batch}, nil
}

// observe keeps the answer to ActiveTab in step with what was replayed.
func (s *server) observe(sig probe.Signal) {
	switch sig.Kind {
	case "tab_activated":
		s.tab.URL = sig.URL
	case "tab_updated":
		if sig.Active {
			s.tab.URL = sig.URL
		}
	case "window_focus":
		s.tab.Focused = sig.Focused
	case "idle_state":
		s.tab.Idle = sig.IdleState != "active"
	}
}

func main() {
	batches, err := load(os.Getenv("DWELL_PROBE_SCRIPT"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe-replay: %v\n", err)
		os.Exit(1)
	}
	probe.Serve(&server{batches: batches, tab: probe.Tab{Focused: true}})
}
