package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/healthwatch/healthwatch-go/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Connections       map[string]*ConnectionStats
	Invocations       map[uint64]*InvocationStats
	Updates           map[string]*UpdateStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats holds statistics for a single shell connection.
type ConnectionStats struct {
	FirstSeen  time.Time
	LastSeen   time.Time
	Events     int
	RemoteAddr string
	Calls      int
	Notified   int
}

// InvocationStats tracks one coordinator setup invocation.
type InvocationStats struct {
	Start     time.Time
	End       time.Time
	LastState string
	Reason    string
	Failed    []string
}

// UpdateStats counts update callbacks for one data type.
type UpdateStats struct {
	Received  int
	Forwarded int
}

func newStats() *Stats {
	return &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Connections:       make(map[string]*ConnectionStats),
		Invocations:       make(map[uint64]*InvocationStats),
		Updates:           make(map[string]*UpdateStats),
	}
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := newStats()
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}

	printStats(w, stats)
	return nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	if event.ConnectionID != "" {
		conn, ok := s.Connections[event.ConnectionID]
		if !ok {
			conn = &ConnectionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
			s.Connections[event.ConnectionID] = conn
		}
		conn.Events++
		if event.RemoteAddr != "" {
			conn.RemoteAddr = event.RemoteAddr
		}
		if event.Timestamp.Before(conn.FirstSeen) {
			conn.FirstSeen = event.Timestamp
		}
		if event.Timestamp.After(conn.LastSeen) {
			conn.LastSeen = event.Timestamp
		}
		if event.Message != nil {
			switch event.Message.Type {
			case log.MessageTypeCall:
				conn.Calls++
			case log.MessageTypeEvent:
				conn.Notified++
			}
		}
	}

	if event.Invocation != 0 {
		inv, ok := s.Invocations[event.Invocation]
		if !ok {
			inv = &InvocationStats{Start: event.Timestamp}
			s.Invocations[event.Invocation] = inv
		}
		if event.Timestamp.After(inv.End) {
			inv.End = event.Timestamp
		}
		if sc := event.StateChange; sc != nil {
			switch sc.Entity {
			case log.StateEntityCoordinator:
				inv.LastState = sc.NewState
				if sc.Reason != "" {
					inv.Reason = sc.Reason
				}
			case log.StateEntitySubscription:
				if sc.NewState == "FAILED" {
					inv.Failed = append(inv.Failed, sc.Subject)
				}
			}
		}
	}

	if u := event.Update; u != nil {
		us, ok := s.Updates[u.Type]
		if !ok {
			us = &UpdateStats{}
			s.Updates[u.Type] = us
		}
		us.Received++
		if u.Forwarded {
			us.Forwarded++
		}
	}

	if event.Error != nil {
		s.Errors++
	}
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Log Statistics ===")
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	if !stats.TimeRange.Start.IsZero() {
		fmt.Fprintf(w, "Time Range: %s - %s\n",
			stats.TimeRange.Start.UTC().Format(time.RFC3339),
			stats.TimeRange.End.UTC().Format(time.RFC3339))
		fmt.Fprintf(w, "Duration: %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, l := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerService} {
		if n := stats.EventsByLayer[l]; n > 0 {
			fmt.Fprintf(w, "  %s: %d\n", l.String(), n)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, c := range []log.Category{log.CategoryMessage, log.CategoryState, log.CategoryUpdate, log.CategoryError} {
		if n := stats.EventsByCategory[c]; n > 0 {
			fmt.Fprintf(w, "  %s: %d\n", c.String(), n)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	fmt.Fprintf(w, "  %s: %d\n", "IN", stats.EventsByDirection[log.DirectionIn])
	fmt.Fprintf(w, "  %s: %d\n", "OUT", stats.EventsByDirection[log.DirectionOut])
	fmt.Fprintln(w)

	if len(stats.Connections) > 0 {
		fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
		ids := make([]string, 0, len(stats.Connections))
		for id := range stats.Connections {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			c := stats.Connections[id]
			fmt.Fprintf(w, "  %s: %d events, %d calls, %d notifications", shortenConnID(id), c.Events, c.Calls, c.Notified)
			if c.RemoteAddr != "" {
				fmt.Fprintf(w, " (%s)", c.RemoteAddr)
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w)
	}

	if len(stats.Invocations) > 0 {
		fmt.Fprintf(w, "Setup Invocations: %d\n", len(stats.Invocations))
		nums := make([]uint64, 0, len(stats.Invocations))
		for n := range stats.Invocations {
			nums = append(nums, n)
		}
		sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
		for _, n := range nums {
			inv := stats.Invocations[n]
			fmt.Fprintf(w, "  #%d: %s in %s", n, inv.LastState, formatDuration(inv.End.Sub(inv.Start)))
			if inv.Reason != "" {
				fmt.Fprintf(w, " (%s)", inv.Reason)
			}
			if len(inv.Failed) > 0 {
				fmt.Fprintf(w, " failed=%v", inv.Failed)
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w)
	}

	if len(stats.Updates) > 0 {
		fmt.Fprintln(w, "Updates by Type:")
		types := make([]string, 0, len(stats.Updates))
		for t := range stats.Updates {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			u := stats.Updates[t]
			fmt.Fprintf(w, "  %s: %d received, %d forwarded\n", t, u.Received, u.Forwarded)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
}
