// Package jsoncodec encodes commands, callbacks and stored aggregates with
// sonic, configured to behave like encoding/json.
package jsoncodec

import (
	"fmt"
	"io"

	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	return api.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return api.NewDecoder(r).Decode(v)
}

// Convert copies src into dst, which must be a pointer, by encoding src and
// decoding the result. It turns loosely typed process variables into the
// types handler funcs declare.
func Convert(src, dst any) error {
	raw, err := api.Marshal(src)
	if err != nil {
		return fmt.Errorf("jsoncodec: encode %T: %w", src, err)
	}
	if err := api.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("jsoncodec: decode %T into %T: %w", src, dst, err)
	}
	return nil
}

// Clone returns a deep copy of v that shares no memory with it. Unexported
// fields are not copied.
func Clone[T any](v T) (T, error) {
	var out T
	err := Convert(v, &out)
	return out, err
}
