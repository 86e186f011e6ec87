package serializer

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":    NewJSONSerializer,
	"GOB":     NewGOBSerializer,
	"Msgpack": NewMsgpackSerializer,
}

// testMessages creates a set of test messages with different fields filled.
// Maps and slices are either nil or non-empty, all encodings drop empty ones.
func testMessages() []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// Insert request
		{
			MsgType:     common.MsgTDocInsert,
			Key:         "usertable-user1",
			Fields:      map[string]string{"field0": "a", "field1": "b"},
			ExpireIn:    int64(90e9),
			PersistTo:   1,
			ReplicateTo: 2,
		},

		// Get response
		{
			MsgType: common.MsgTDocGet,
			Fields:  map[string]string{"field0": "a"},
			Version: 1<<63 + 7,
			Ok:      true,
		},

		// Range query response
		{
			MsgType:   common.MsgTDocRangeQuery,
			DesignDoc: "ddoc0",
			View:      "view1",
			Rows: []common.Row{
				{Key: "field1aaa", ID: "usertable-user1", Fields: map[string]string{"field1": "aaa"}},
				{Key: "field1bbb", ID: "usertable-user2"},
			},
			Errors: []string{"partition 3 unavailable"},
		},

		// Error response
		{
			MsgType: common.MsgTDocCAS,
			Code:    uint64(store.RetCVersionConflict),
			Err:     "version conflict",
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for msgType := common.MsgTSuccess; msgType <= common.MsgTDocInfo; msgType++ {
				data, err := serializer.Serialize(common.Message{MsgType: msgType})
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType, err)
					continue
				}

				var result common.Message
				if err = serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType, err)
					continue
				}

				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s", msgType, result.MsgType)
				}
			}
		})
	}
}

// TestErrorsSurviveTransport checks that store errors keep their code across serialization
func TestErrorsSurviveTransport(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()
			resp := common.NewWriteResponse(common.MsgTDocCAS, 0, store.Errorf(store.RetCDurabilityImpossible, "replicateTo=3"))

			data, err := serializer.Serialize(*resp)
			if err != nil {
				t.Fatal(err)
			}
			var result common.Message
			if err := serializer.Deserialize(data, &result); err != nil {
				t.Fatal(err)
			}

			err = result.ToError()
			if !errors.Is(err, store.ErrWriteFailed) || store.CodeOf(err) != store.RetCDurabilityImpossible {
				t.Errorf("Expected durability error, got %v", err)
			}
		})
	}
}

// TestInvalidData tests how the binary serializers handle corrupt input
func TestInvalidData(t *testing.T) {
	for _, name := range []string{"GOB", "Msgpack"} {
		t.Run(name, func(t *testing.T) {
			serializer := testSerializers[name]()
			for _, data := range [][]byte{{}, {0xc1}, {0x85, 0xa1}} {
				var msg common.Message
				if err := serializer.Deserialize(data, &msg); err == nil {
					t.Errorf("Expected error for % x", data)
				}
			}
		})
	}
}
