package worker

import (
	"encoding/json"

	"github.com/honeynet/telemetry-pipeline/internal/model"
)

func decodeRaw(data []byte) (model.RawSession, error) {
	var raw model.RawSession
	err := json.Unmarshal(data, &raw)
	return raw, err
}

func encodeEvent(s model.EvaluatedSession) ([]byte, error) {
	return json.Marshal(s)
}
