package signal

import (
	"encoding/json"
	"fmt"
)

// EncodeMetadata serializes a typed metadata payload for persistence
func EncodeMetadata(md Metadata) ([]byte, error) {
	if md == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("encode %s metadata: %w", md.SignalType(), err)
	}
	return data, nil
}

// DecodeMetadata deserializes a persisted payload back into the concrete
// shape for its signal type. Unknown types fall back to GenericMetadata so
// rows written by newer deployments still round-trip.
func DecodeMetadata(t Type, data []byte) (Metadata, error) {
	if len(data) == 0 {
		data = []byte("{}")
	}

	switch t {
	case TypeMempool:
		var md MempoolMetadata
		if err := json.Unmarshal(data, &md); err != nil {
			return nil, fmt.Errorf("decode mempool metadata: %w", err)
		}
		return md, nil
	case TypeExchange:
		var md ExchangeMetadata
		if err := json.Unmarshal(data, &md); err != nil {
			return nil, fmt.Errorf("decode exchange metadata: %w", err)
		}
		return md, nil
	case TypeMiner:
		var md MinerMetadata
		if err := json.Unmarshal(data, &md); err != nil {
			return nil, fmt.Errorf("decode miner metadata: %w", err)
		}
		return md, nil
	case TypeWhale:
		var md WhaleMetadata
		if err := json.Unmarshal(data, &md); err != nil {
			return nil, fmt.Errorf("decode whale metadata: %w", err)
		}
		return md, nil
	case TypePredictive:
		var md PredictiveMetadata
		if err := json.Unmarshal(data, &md); err != nil {
			return nil, fmt.Errorf("decode predictive metadata: %w", err)
		}
		return md, nil
	default:
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode %s metadata: %w", t, err)
		}
		fields := make(map[string]string, len(raw))
		for k, v := range raw {
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				fields[k] = s
				continue
			}
			fields[k] = string(v)
		}
		return GenericMetadata{Type: t, Fields: fields}, nil
	}
}
