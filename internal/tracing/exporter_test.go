package tracing

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func readRecords(t *testing.T, path string) []SpanRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []SpanRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec SpanRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec), "line should be valid JSON")
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestNewFileExporter_CreatesParentDirectories(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "nested", "dir", "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	require.NoError(t, err)

	_, err = os.Stat(tracePath)
	require.NoError(t, err, "trace file should be created with parent dirs")
	require.NoError(t, exporter.Shutdown(context.Background()))
}

func TestFileExporter_WritesOneRecordPerSpan(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "traces.jsonl")
	exporter, err := NewFileExporter(tracePath)
	require.NoError(t, err)

	start := time.Now()
	stubs := tracetest.SpanStubs{
		{
			Name:      "stage.airrt",
			StartTime: start,
			EndTime:   start.Add(250 * time.Millisecond),
			Status:    sdktrace.Status{Code: codes.Ok},
			Attributes: []attribute.KeyValue{
				attribute.String(AttrStageTag, "airrt"),
				attribute.String(AttrStageOutput, "/tmp/x/airrt.matmul.mlir"),
			},
		},
		{
			Name:      "tool.aiecc.py",
			StartTime: start,
			EndTime:   start.Add(time.Second),
			Status:    sdktrace.Status{Code: codes.Error, Description: "exit status 1"},
			Attributes: []attribute.KeyValue{
				attribute.Int(AttrToolExitCode, 1),
			},
			Events: []sdktrace.Event{{Name: EventHerdsDiscovered, Time: start}},
		},
	}
	require.NoError(t, exporter.ExportSpans(context.Background(), stubs.Snapshots()))
	require.NoError(t, exporter.Shutdown(context.Background()))

	records := readRecords(t, tracePath)
	require.Len(t, records, 2)

	require.Equal(t, "stage.airrt", records[0].Name)
	require.Equal(t, "OK", records[0].Status)
	require.Equal(t, "airrt", records[0].Attributes[AttrStageTag])
	require.InDelta(t, 250.0, records[0].DurationMs, 0.01)

	require.Equal(t, "ERROR", records[1].Status)
	require.Equal(t, "exit status 1", records[1].StatusMsg)
	require.EqualValues(t, 1, records[1].Attributes[AttrToolExitCode])
	require.Len(t, records[1].Events, 1)
	require.Equal(t, EventHerdsDiscovered, records[1].Events[0].Name)
}

func TestFileExporter_AppendsToExistingFile(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "traces.jsonl")
	require.NoError(t, os.WriteFile(tracePath, []byte(`{"name":"earlier"}`+"\n"), 0644))

	exporter, err := NewFileExporter(tracePath)
	require.NoError(t, err)

	stub := tracetest.SpanStub{Name: "build", StartTime: time.Now(), EndTime: time.Now()}
	require.NoError(t, exporter.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{stub.Snapshot()}))
	require.NoError(t, exporter.Shutdown(context.Background()))

	records := readRecords(t, tracePath)
	require.Len(t, records, 2)
	require.Equal(t, "earlier", records[0].Name)
	require.Equal(t, "build", records[1].Name)
}

func TestFileExporter_ExportAfterShutdownFails(t *testing.T) {
	exporter, err := NewFileExporter(filepath.Join(t.TempDir(), "traces.jsonl"))
	require.NoError(t, err)
	require.NoError(t, exporter.Shutdown(context.Background()))
	require.NoError(t, exporter.Shutdown(context.Background()), "second shutdown is a no-op")

	stub := tracetest.SpanStub{Name: "late"}
	err = exporter.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{stub.Snapshot()})
	require.Error(t, err)
}
