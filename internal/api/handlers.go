package api

import (
	"encoding/json"
	"fmt"
	"sort"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-flows/internal/models"
	"github.com/miradorstack/mirador-flows/internal/playback"
)

// BandResult is one preloaded band delivered to the caller.
type BandResult struct {
	Index  int
	Status models.FlowStatus
}

// ToProtoFlowStatus encodes a rolled-up status using its JSON field names.
func ToProtoFlowStatus(status models.FlowStatus) (*structpb.Struct, error) {
	fields, err := toMap(status)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

// FromProtoWindow reads a {start, end} window in epoch millis.
func FromProtoWindow(req *structpb.Struct) (models.TimeWindow, error) {
	if req == nil {
		return models.TimeWindow{}, fmt.Errorf("request is nil")
	}
	return windowFromFields(req.GetFields())
}

// FromProtoPreloadRequest reads {bands: [{start, end}], overwrite}.
func FromProtoPreloadRequest(req *structpb.Struct) ([]models.TimeBand, bool, error) {
	if req == nil {
		return nil, false, fmt.Errorf("request is nil")
	}
	fields := req.GetFields()
	list := fields["bands"].GetListValue()
	if list == nil || len(list.GetValues()) == 0 {
		return nil, false, fmt.Errorf("bands are required")
	}
	bands := make([]models.TimeBand, 0, len(list.GetValues()))
	for i, value := range list.GetValues() {
		band := value.GetStructValue()
		if band == nil {
			return nil, false, fmt.Errorf("band %d must be an object", i)
		}
		window, err := windowFromFields(band.GetFields())
		if err != nil {
			return nil, false, fmt.Errorf("band %d: %w", i, err)
		}
		bands = append(bands, models.NewTimeBand(window))
	}
	return bands, fields["overwrite"].GetBoolValue(), nil
}

// ToProtoPreloadResponse encodes a preload report and its band results in
// band order.
func ToProtoPreloadResponse(report playback.PreloadReport, results []BandResult) (*structpb.Struct, error) {
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	encoded := make([]interface{}, 0, len(results))
	for _, result := range results {
		status, err := toMap(result.Status)
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, map[string]interface{}{
			"index":  result.Index,
			"status": status,
		})
	}
	return structpb.NewStruct(map[string]interface{}{
		"sessionId":     report.SessionID,
		"loaded":        report.Loaded,
		"cached":        report.Cached,
		"failedBatches": report.FailedBatches,
		"results":       encoded,
	})
}

// ToProtoSeekResponse encodes a seek outcome.
func ToProtoSeekResponse(status models.FlowStatus, found bool) (*structpb.Struct, error) {
	fields := map[string]interface{}{"found": found}
	if found {
		encoded, err := toMap(status)
		if err != nil {
			return nil, err
		}
		fields["status"] = encoded
	}
	return structpb.NewStruct(fields)
}

func windowFromFields(fields map[string]*structpb.Value) (models.TimeWindow, error) {
	start, okStart := fields["start"]
	end, okEnd := fields["end"]
	if !okStart || !okEnd {
		return models.TimeWindow{}, fmt.Errorf("start and end are required")
	}
	window := models.TimeWindow{Start: int64(start.GetNumberValue()), End: int64(end.GetNumberValue())}
	if !window.Valid() {
		return models.TimeWindow{}, fmt.Errorf("window %d..%d is empty", window.Start, window.End)
	}
	return window, nil
}

// toMap round-trips through JSON so structpb sees only plain values.
func toMap(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}
	return out, nil
}
