// Package frame encodes streaming output into server-sent event records.
//
// A record looks like
//
//	data:{"data": {"messageType": "continue", "content": "..."}, "dataType": "t02"}\n\n
//
// The JSON uses ", " and ": " separators and emits non-ASCII text raw, so
// existing clients that match on the exact bytes keep working.
package frame

// MessageType classifies a frame for the client.
type MessageType string

const (
	MessageContinue MessageType = "continue"
	MessageInfo     MessageType = "info"
	MessageError    MessageType = "error"
	MessageEnd      MessageType = "end"
)

// DataType tags the payload category of a frame.
type DataType string

const (
	// DataTypeAnswer marks answer content and status notices.
	DataTypeAnswer DataType = "t02"
	// DataTypeStreamEnd marks the end-of-stream frame.
	DataTypeStreamEnd DataType = "t99"
)

// Prefix starts every encoded record.
const Prefix = "data:"

// Frame is one unit of streamed output.
type Frame struct {
	MessageType MessageType
	Content     string
	DataType    DataType
}

// Continue carries a piece of answer content.
func Continue(content string) Frame {
	return Frame{MessageType: MessageContinue, Content: content, DataType: DataTypeAnswer}
}

// Info carries a status notice such as a stop acknowledgement.
func Info(content string) Frame {
	return Frame{MessageType: MessageInfo, Content: content, DataType: DataTypeAnswer}
}

// Error carries a client-safe failure message.
func Error(content string) Frame {
	return Frame{MessageType: MessageError, Content: content, DataType: DataTypeAnswer}
}

// End closes a stopped stream.
func End() Frame {
	return Frame{MessageType: MessageEnd, Content: "", DataType: DataTypeStreamEnd}
}

// Terminal reports whether no further frames follow f.
func (f Frame) Terminal() bool {
	return f.MessageType == MessageEnd || f.MessageType == MessageError
}
