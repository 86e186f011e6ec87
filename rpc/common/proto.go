package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dDoc/lib/docdb"
	"github.com/ValentinKolb/dDoc/lib/store"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type" msgpack:"t"`

	// Document fields
	Key         string            `json:"key,omitempty" msgpack:"k,omitempty"`         // Used for: all document operations
	Fields      map[string]string `json:"fields,omitempty" msgpack:"f,omitempty"`      // Used for: Insert, Add, CAS (request), Get (response)
	Version     uint64            `json:"version,omitempty" msgpack:"v,omitempty"`     // Used for: CAS (request), all writes and Get (response)
	ExpireIn    int64             `json:"expireIn,omitempty" msgpack:"e,omitempty"`    // Used for: Insert, Add (nanoseconds, 0 = never)
	PersistTo   int               `json:"persistTo,omitempty" msgpack:"p,omitempty"`   // Used for: Insert, Add, CAS
	ReplicateTo int               `json:"replicateTo,omitempty" msgpack:"r,omitempty"` // Used for: Insert, Add, CAS

	// View fields
	DesignDoc string   `json:"designDoc,omitempty" msgpack:"dd,omitempty"` // Used for: ResolveView, RangeQuery
	View      string   `json:"view,omitempty" msgpack:"vw,omitempty"`      // Used for: ResolveView, RangeQuery
	Emit      string   `json:"emit,omitempty" msgpack:"em,omitempty"`      // Used for: ResolveView (response), RangeQuery
	StartKey  string   `json:"startKey,omitempty" msgpack:"sk,omitempty"`  // Used for: RangeQuery
	Limit     int      `json:"limit,omitempty" msgpack:"l,omitempty"`      // Used for: RangeQuery
	Rows      []Row    `json:"rows,omitempty" msgpack:"rs,omitempty"`      // Used for: RangeQuery (response)
	Errors    []string `json:"errors,omitempty" msgpack:"es,omitempty"`    // Used for: RangeQuery (response)

	// Info is the json encoded docdb.DatabaseInfo, the engine metadata has no fixed schema
	Info []byte `json:"info,omitempty" msgpack:"in,omitempty"` // Used for: Info (response)

	// Response only fields
	Ok   bool   `json:"ok,omitempty" msgpack:"ok,omitempty"`   // Used for: Get, ResolveView responses
	Code uint64 `json:"code,omitempty" msgpack:"c,omitempty"`  // store.RetCode of the error
	Err  string `json:"err,omitempty" msgpack:"err,omitempty"` // Empty if no error, otherwise contains the error message
}

// Row is a result row of a range query
type Row struct {
	Key    string            `json:"key" msgpack:"k"`
	ID     string            `json:"id" msgpack:"i"`
	Fields map[string]string `json:"fields,omitempty" msgpack:"f,omitempty"`
}

// Durability returns the durability requirement carried by the message
func (m *Message) Durability() store.Durability {
	return store.Durability{PersistTo: m.PersistTo, ReplicateTo: m.ReplicateTo}
}

// ToError rebuilds the store error carried by a response, nil if there is none.
func (m *Message) ToError() error {
	if m.Err == "" && m.MsgType != MsgTError {
		return nil
	}
	code := store.RetCode(m.Code)
	if code == store.RetCSuccess {
		code = store.RetCInternalError
	}
	return store.NewError(code, m.Err)
}

// setErr stores err in the message. Errors that are not store errors are sent as internal errors.
func (m *Message) setErr(err error) *Message {
	if err == nil {
		return m
	}
	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		m.Code = uint64(storeErr.Code)
		m.Err = storeErr.Msg
	} else {
		m.Code = uint64(store.RetCInternalError)
		m.Err = err.Error()
	}
	return m
}

func withDurability(m *Message, d store.Durability) *Message {
	m.PersistTo = d.PersistTo
	m.ReplicateTo = d.ReplicateTo
	return m
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewGetRequest creates a new Get request
func NewGetRequest(key string) *Message {
	return &Message{
		MsgType: MsgTDocGet,
		Key:     key,
	}
}

// NewGetResponse creates a new Get response
func NewGetResponse(doc store.Document, found bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTDocGet,
		Ok:      found,
		Fields:  doc.Fields,
		Version: uint64(doc.Version),
	}
	return msg.setErr(err)
}

// NewInsertRequest creates a new Insert request
func NewInsertRequest(key string, fields store.Fields, expiry time.Duration, d store.Durability) *Message {
	return withDurability(&Message{
		MsgType:  MsgTDocInsert,
		Key:      key,
		Fields:   fields,
		ExpireIn: int64(expiry),
	}, d)
}

// NewAddRequest creates a new Add request
func NewAddRequest(key string, fields store.Fields, expiry time.Duration, d store.Durability) *Message {
	return withDurability(&Message{
		MsgType:  MsgTDocAdd,
		Key:      key,
		Fields:   fields,
		ExpireIn: int64(expiry),
	}, d)
}

// NewCASRequest creates a new CompareAndSwap request
func NewCASRequest(key string, expected store.Version, fields store.Fields, d store.Durability) *Message {
	return withDurability(&Message{
		MsgType: MsgTDocCAS,
		Key:     key,
		Fields:  fields,
		Version: uint64(expected),
	}, d)
}

// NewWriteResponse creates the response of Insert, Add and CAS requests
func NewWriteResponse(msgType MessageType, version store.Version, err error) *Message {
	msg := &Message{
		MsgType: msgType,
		Version: uint64(version),
	}
	return msg.setErr(err)
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(key string) *Message {
	return &Message{
		MsgType: MsgTDocDelete,
		Key:     key,
	}
}

// NewDeleteResponse creates a new Delete response
func NewDeleteResponse(err error) *Message {
	msg := &Message{
		MsgType: MsgTDocDelete,
	}
	return msg.setErr(err)
}

// NewResolveViewRequest creates a new ResolveView request
func NewResolveViewRequest(id store.ViewID) *Message {
	return &Message{
		MsgType:   MsgTDocResolveView,
		DesignDoc: id.DesignDoc,
		View:      id.View,
	}
}

// NewResolveViewResponse creates a new ResolveView response
func NewResolveViewResponse(view *store.ViewHandle, err error) *Message {
	msg := &Message{
		MsgType: MsgTDocResolveView,
	}
	if view != nil {
		msg.Ok = true
		msg.DesignDoc = view.ID.DesignDoc
		msg.View = view.ID.View
		msg.Emit = view.Emit
	}
	return msg.setErr(err)
}

// NewRangeQueryRequest creates a new RangeQuery request
func NewRangeQueryRequest(view *store.ViewHandle, startKey string, limit int) *Message {
	return &Message{
		MsgType:   MsgTDocRangeQuery,
		DesignDoc: view.ID.DesignDoc,
		View:      view.ID.View,
		Emit:      view.Emit,
		StartKey:  startKey,
		Limit:     limit,
	}
}

// NewRangeQueryResponse creates a new RangeQuery response
func NewRangeQueryResponse(page store.Page, err error) *Message {
	msg := &Message{
		MsgType: MsgTDocRangeQuery,
		Errors:  page.Errors,
	}
	if len(page.Rows) > 0 {
		msg.Rows = make([]Row, len(page.Rows))
		for i, row := range page.Rows {
			msg.Rows[i] = Row{Key: row.Key, ID: row.ID, Fields: row.Fields}
		}
	}
	return msg.setErr(err)
}

// Page converts the rows of a RangeQuery response into a store page
func (m *Message) Page() store.Page {
	page := store.Page{Rows: make([]store.Row, len(m.Rows)), Errors: m.Errors}
	for i, row := range m.Rows {
		page.Rows[i] = store.Row{Key: row.Key, ID: row.ID, Fields: row.Fields}
	}
	return page
}

// NewInfoRequest creates a new Info request
func NewInfoRequest() *Message {
	return &Message{
		MsgType: MsgTDocInfo,
	}
}

// NewInfoResponse creates a new Info response
func NewInfoResponse(info docdb.DatabaseInfo, err error) *Message {
	msg := &Message{
		MsgType: MsgTDocInfo,
	}
	if err != nil {
		return msg.setErr(err)
	}
	data, err := json.Marshal(info)
	if err != nil {
		return msg.setErr(fmt.Errorf("failed to encode database info: %w", err))
	}
	msg.Info = data
	return msg
}

// DatabaseInfo decodes the database info of an Info response.
// The engine metadata is decoded as a generic json object.
func (m *Message) DatabaseInfo() (docdb.DatabaseInfo, error) {
	var info docdb.DatabaseInfo
	if err := json.Unmarshal(m.Info, &info); err != nil {
		return docdb.DatabaseInfo{}, store.Errorf(store.RetCTransport, "failed to decode database info: %v", err)
	}
	return info, nil
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(code store.RetCode, err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Code:    uint64(code),
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTDocGet:
		return "get"
	case MsgTDocInsert:
		return "insert"
	case MsgTDocAdd:
		return "add"
	case MsgTDocCAS:
		return "cas"
	case MsgTDocDelete:
		return "delete"
	case MsgTDocResolveView:
		return "resolveView"
	case MsgTDocRangeQuery:
		return "rangeQuery"
	case MsgTDocInfo:
		return "info"
	case MsgTError:
		return "error"
	case MsgTSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for candidate := MsgTSuccess; candidate <= MsgTDocInfo; candidate++ {
		if candidate.String() == s {
			*t = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// IDocStore operations

	MsgTDocGet         // Read a document
	MsgTDocInsert      // Create or overwrite a document
	MsgTDocAdd         // Create a document if it does not exist
	MsgTDocCAS         // Compare-and-swap a document
	MsgTDocDelete      // Delete a document
	MsgTDocResolveView // Look up a view
	MsgTDocRangeQuery  // Query a page of a view
	MsgTDocInfo        // Report information about the database of the shard
)
