package reports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"tongjisync/internal/tongji"
)

// ResponseHash computes the canonical content hash over a request's
// parameters and its response body. Identical inputs always produce the
// same hash: map keys are serialized in sorted order and HTML escaping is
// disabled so unicode and slashes pass through unchanged.
func ResponseHash(params, data map[string]any) (string, error) {
	payload := map[string]any{
		"params": params,
		"data":   data,
	}

	encoded, err := marshalUnescaped(payload)
	if err != nil {
		return "", tongji.NewSerializationError(err)
	}

	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// marshalUnescaped serializes v to JSON without HTML escaping and
// without a trailing newline.
func marshalUnescaped(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
