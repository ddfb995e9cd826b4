package keyheader

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ByteArray is a byte slice that tolerates both JSON representations the
// server is known to emit: a base64 string or a plain array of numbers.
// It always marshals to a base64 string.
type ByteArray []byte

func (b ByteArray) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.StdEncoding.EncodeToString(b))
}

func (b *ByteArray) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = nil
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("byte array: invalid base64: %w", err)
		}
		*b = raw
		return nil
	}

	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return fmt.Errorf("byte array: expected base64 string or number array")
	}
	raw := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return fmt.Errorf("byte array: value %d out of byte range", n)
		}
		raw[i] = byte(n)
	}
	*b = raw
	return nil
}

// CoerceBytes normalizes the key and IV forms callers may hold: raw bytes,
// a ByteArray, or a base64 string.
func CoerceBytes(v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return x, nil
	case ByteArray:
		return []byte(x), nil
	case string:
		raw, err := base64.StdEncoding.DecodeString(x)
		if err != nil {
			return nil, fmt.Errorf("coercing bytes: invalid base64: %w", err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("coercing bytes: unsupported type %T", v)
	}
}
