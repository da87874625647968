package realtime

import (
	"encoding/json"
	"fmt"
)

// Command is the closed set of frame verbs.
type Command uint8

const (
	CommandInvalid Command = iota
	// client to server
	CommandSubscribe
	CommandUnsubscribe
	CommandSend
	// server to client
	CommandMessage
	CommandReceipt
	CommandError
)

var commandNames = [...]string{
	CommandInvalid:     "",
	CommandSubscribe:   "SUBSCRIBE",
	CommandUnsubscribe: "UNSUBSCRIBE",
	CommandSend:        "SEND",
	CommandMessage:     "MESSAGE",
	CommandReceipt:     "RECEIPT",
	CommandError:       "ERROR",
}

func (c Command) String() string {
	if int(c) < len(commandNames) {
		return commandNames[c]
	}
	return fmt.Sprintf("Command(%d)", uint8(c))
}

// FromClient reports whether clients may send this command.
func (c Command) FromClient() bool {
	switch c {
	case CommandSubscribe, CommandUnsubscribe, CommandSend:
		return true
	default:
		return false
	}
}

func (c Command) MarshalText() ([]byte, error) {
	if c == CommandInvalid || int(c) >= len(commandNames) {
		return nil, fmt.Errorf("realtime: unknown command %d", uint8(c))
	}
	return []byte(commandNames[c]), nil
}

func (c *Command) UnmarshalText(b []byte) error {
	for i, name := range commandNames {
		if i != int(CommandInvalid) && name == string(b) {
			*c = Command(i)
			return nil
		}
	}
	return fmt.Errorf("realtime: unknown command %q", b)
}

// Destination is the closed set of application endpoints a SEND may target.
type Destination uint8

const (
	DestinationInvalid Destination = iota
	DestinationCreateConversation
	DestinationGetConversation
	DestinationDeleteConversation
	DestinationSendMessage
	DestinationMarkRead
)

var destinationPaths = [...]string{
	DestinationInvalid:            "",
	DestinationCreateConversation: "/app/createConversation",
	DestinationGetConversation:    "/app/getConversation",
	DestinationDeleteConversation: "/app/deleteConversation",
	DestinationSendMessage:        "/app/sendMessage",
	DestinationMarkRead:           "/app/markRead",
}

func (d Destination) String() string {
	if int(d) < len(destinationPaths) {
		return destinationPaths[d]
	}
	return fmt.Sprintf("Destination(%d)", uint8(d))
}

// ParseDestination maps a SEND destination to its enum value.
func ParseDestination(path string) (Destination, error) {
	for i, p := range destinationPaths {
		if i != int(DestinationInvalid) && p == path {
			return Destination(i), nil
		}
	}
	return DestinationInvalid, fmt.Errorf("realtime: unknown destination %q", path)
}

// Frame is one JSON text message on the socket.
//
// Clients send SUBSCRIBE {destination: topic, id}, UNSUBSCRIBE {id} and
// SEND {destination: /app/..., receipt, body}. The server answers with
// MESSAGE {destination, id, body} for topic events, RECEIPT {receipt, body}
// for a completed SEND and ERROR {receipt, message} for any failure.
type Frame struct {
	Command     Command         `json:"command"`
	Destination string          `json:"destination,omitempty"`
	ID          string          `json:"id,omitempty"`
	Receipt     string          `json:"receipt,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	Message     string          `json:"message,omitempty"`
}

func encodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

func decodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	if !f.Command.FromClient() {
		return Frame{}, fmt.Errorf("realtime: command %s not accepted from clients", f.Command)
	}
	return f, nil
}
