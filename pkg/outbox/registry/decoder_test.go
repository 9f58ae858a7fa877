package registry

import (
	"encoding/json"
	"testing"

	"github.com/hanseoyun/shopcore-backend/pkg/enums"
)

func TestDecoderRegistry(t *testing.T) {
	reg := NewDecoderRegistry()
	reg.Register(enums.EventPointsExpired, 1, func(payload json.RawMessage) (interface{}, error) {
		var decoded map[string]string
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	})

	input := json.RawMessage(`{"userId":"f47ac10b-58cc-4372-a567-0e02b2c3d479"}`)
	output, err := reg.Decode(enums.EventPointsExpired, 1, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outMap, ok := output.(map[string]string); !ok || outMap["userId"] != "f47ac10b-58cc-4372-a567-0e02b2c3d479" {
		t.Fatalf("unexpected output %+v", output)
	}

	if _, err := reg.Decode(enums.EventOrderPaid, 1, input); err == nil {
		t.Fatalf("expected missing decoder error")
	}
}
