package internal

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/docdb"
	"github.com/vmihailenco/msgpack/v5"
)

// CommandType defines the possible operations for the state machine.
type CommandType uint8

const (
	CommandTInsert CommandType = iota // Insert or replace a document.
	CommandTAdd                       // Insert a document only if it does not exist.
	CommandTCAS                       // Replace a document if its version matches.
	CommandTDelete                    // Delete a document.
	CommandTPurge                     // Remove all documents expired at the proposer's time.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTInsert:
		return "Insert"
	case CommandTAdd:
		return "Add"
	case CommandTCAS:
		return "CompareAndSwap"
	case CommandTDelete:
		return "Delete"
	case CommandTPurge:
		return "Purge"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// ToDBFeature converts a CommandType to the corresponding docdb.Feature.
// This can be used for checking if the database supports a certain operation.
func (ct CommandType) ToDBFeature() (docdb.Feature, error) {
	switch ct {
	case CommandTInsert:
		return docdb.FeatureUpsert, nil
	case CommandTAdd:
		return docdb.FeatureAdd, nil
	case CommandTCAS:
		return docdb.FeatureCAS, nil
	case CommandTDelete:
		return docdb.FeatureDelete, nil
	case CommandTPurge:
		return docdb.FeatureExpiry, nil
	default:
		return 0, fmt.Errorf("unknown command type %d", ct)
	}
}

const headerSize = 1 + 8 + 8 + 8 + 4 // Type + Now + ExpireAt + Expected + KeyLen

// Command represents a command to be executed by the state machine (a single entry in the raft log)
type Command struct {
	Type     CommandType
	Key      string
	Now      int64  // unix nano timestamp of the proposer, used for all expiry decisions
	ExpireAt int64  // absolute unix nano timestamp (Insert, Add)
	Expected uint64 // expected version (CAS)
	Fields   map[string]string
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for operation type,
// 8 bytes for the proposer's timestamp,
// 8 bytes for expireAt,
// 8 bytes for the expected version,
// 4 bytes for key length (big endian),
// N bytes for key data,
// M bytes for the msgpack encoded fields (optional)
func (command *Command) Serialize() ([]byte, error) {
	var fields []byte
	if command.Fields != nil {
		var err error
		if fields, err = msgpack.Marshal(command.Fields); err != nil {
			return nil, fmt.Errorf("failed to encode fields: %w", err)
		}
	}

	result := make([]byte, headerSize+len(command.Key)+len(fields))
	result[0] = byte(command.Type)
	binary.BigEndian.PutUint64(result[1:9], uint64(command.Now))
	binary.BigEndian.PutUint64(result[9:17], uint64(command.ExpireAt))
	binary.BigEndian.PutUint64(result[17:25], command.Expected)
	binary.BigEndian.PutUint32(result[25:29], uint32(len(command.Key)))
	copy(result[headerSize:], command.Key)
	copy(result[headerSize+len(command.Key):], fields)
	return result, nil
}

// Deserialize extracts all Command fields from a byte array.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for command")
	}

	command.Type = CommandType(data[0])
	command.Now = int64(binary.BigEndian.Uint64(data[1:9]))
	command.ExpireAt = int64(binary.BigEndian.Uint64(data[9:17]))
	command.Expected = binary.BigEndian.Uint64(data[17:25])

	keyLen := int(binary.BigEndian.Uint32(data[25:29]))
	if len(data) < headerSize+keyLen {
		return fmt.Errorf("data too short for key of length %d", keyLen)
	}
	command.Key = string(data[headerSize : headerSize+keyLen])

	command.Fields = nil
	if rest := data[headerSize+keyLen:]; len(rest) > 0 {
		if err := msgpack.Unmarshal(rest, &command.Fields); err != nil {
			return fmt.Errorf("failed to decode fields: %w", err)
		}
	}
	return nil
}
