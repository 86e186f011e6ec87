package serializer

import (
	"bytes"

	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/vmihailenco/msgpack/v5"
)

// NewMsgpackSerializer creates a new serializer using msgpack encoding
func NewMsgpackSerializer() IRPCSerializer {
	return &msgpackSerializerImpl{}
}

// msgpackSerializerImpl implements the IRPCSerializer interface using msgpack.
// Encoders and decoders come from the pools of the msgpack package.
type msgpackSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (m msgpackSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)
	enc.Reset(&buf)
	if err := enc.Encode(&msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m msgpackSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	dec := msgpack.GetDecoder()
	defer msgpack.PutDecoder(dec)
	dec.Reset(bytes.NewReader(b))
	return dec.Decode(msg)
}
