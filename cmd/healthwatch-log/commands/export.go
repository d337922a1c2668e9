package commands

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/healthwatch/healthwatch-go/pkg/log"
)

// RunExport writes events matching filter to output (stdout if empty) in
// the given format.
func RunExport(path, format, output string, filter log.Filter) error {
	if format != "jsonl" && format != "csv" {
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if format == "csv" {
		return exportCSV(reader, w)
	}
	return exportJSONL(reader, w)
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
}

var csvHeader = []string{
	"timestamp", "connection_id", "direction", "layer", "category",
	"channel", "invocation", "type", "call_id", "method", "detail",
}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := cw.Write(csvRow(event)); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func csvRow(event log.Event) []string {
	var callID, method, detail string
	switch {
	case event.Message != nil:
		if event.Message.CallID != 0 {
			callID = strconv.FormatUint(uint64(event.Message.CallID), 10)
		}
		method = event.Message.Method
		if event.Message.Status != nil {
			detail = event.Message.Status.String()
		}
	case event.StateChange != nil:
		detail = event.StateChange.NewState
		if event.StateChange.Subject != "" {
			detail = event.StateChange.Subject + ":" + detail
		}
	case event.Update != nil:
		detail = event.Update.Type
	case event.Error != nil:
		detail = event.Error.Message
	case event.Frame != nil:
		detail = strconv.Itoa(event.Frame.Size)
	}

	invocation := ""
	if event.Invocation != 0 {
		invocation = strconv.FormatUint(event.Invocation, 10)
	}

	return []string{
		event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		event.ConnectionID,
		event.Direction.String(),
		event.Layer.String(),
		event.Category.String(),
		event.Channel,
		invocation,
		eventLabel(event),
		callID,
		method,
		detail,
	}
}
