// Package codec implements the canonical, length-prefixed binary encoding
// used for wire types (pieces, segments, root blocks, RPC payloads).
// Encoding is deterministic (CBOR's canonical/"preferred serialization"
// mode) so that hashing an encoded value is reproducible across nodes.
package codec

import "github.com/fxamacker/cbor/v2"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CanonicalEncOptions()
	m, err := opts.EncMode()
	if err != nil {
		panic("codec: failed to build canonical encode mode: " + err.Error())
	}
	encMode = m

	dopts := cbor.DecOptions{}
	dm, err := dopts.DecMode()
	if err != nil {
		panic("codec: failed to build decode mode: " + err.Error())
	}
	decMode = dm
}

// Encode renders v into its canonical binary encoding.
func Encode(v interface{}) ([]byte, error) {
	return encMode.Marshal(v)
}

// Decode parses raw into v.
func Decode(raw []byte, v interface{}) error {
	return decMode.Unmarshal(raw, v)
}
