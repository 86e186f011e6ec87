package serializer

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dDoc/rpc/common"
)

// IRPCSerializer is the interface for all Message Serializers
type IRPCSerializer interface {
	// Serialize serializes a Message into a byte array
	// It returns the serialized byte array and an error if any
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize deserializes a byte array into a Message
	// It takes a byte array and a pointer to a Message as parameters
	// It returns an error if any
	Deserialize(b []byte, msg *common.Message) error
}

// ByName returns the serializer with the given name (msgpack, json or gob)
func ByName(name string) (IRPCSerializer, error) {
	switch strings.ToLower(name) {
	case "msgpack", "":
		return NewMsgpackSerializer(), nil
	case "json":
		return NewJSONSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	default:
		return nil, fmt.Errorf("unknown serializer %q (expected msgpack, json or gob)", name)
	}
}
