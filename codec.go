package xbeacon

import (
	"encoding/json"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Codec is the Strategy for encoding batches on the wire.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
	ContentType() string
}

// JSONCodec is the default JSON implementation and the collector's contract.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
func (JSONCodec) Name() string                    { return "json" }
func (JSONCodec) ContentType() string             { return "application/json" }

// CBORCodec encodes batches with Core Deterministic CBOR for collectors that
// accept application/cbor.
type CBORCodec struct{}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("xbeacon: CBOR encoder initialization failed: " + err.Error())
	}
	// Payloads are opaque any values; decode nested maps the way
	// encoding/json does so both codecs yield the same Go shapes.
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("xbeacon: CBOR decoder initialization failed: " + err.Error())
	}
}

func (CBORCodec) Marshal(v any) ([]byte, error)   { return cborEnc.Marshal(v) }
func (CBORCodec) Unmarshal(b []byte, v any) error { return cborDec.Unmarshal(b, v) }
func (CBORCodec) Name() string                    { return "cbor" }
func (CBORCodec) ContentType() string             { return "application/cbor" }

// DecodeBatch unmarshals a wire body into events using the provided codec.
func DecodeBatch(c Codec, body []byte) ([]Event, error) {
	var events []Event
	if err := c.Unmarshal(body, &events); err != nil {
		return nil, err
	}
	return events, nil
}
