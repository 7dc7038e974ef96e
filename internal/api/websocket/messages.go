package websocket

import (
	"time"

	"github.com/KevinKickass/xkop-gateway/internal/state"
	"github.com/KevinKickass/xkop-gateway/internal/utmc"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Row value changes
	MessageTypePointUpdate MessageType = "point_update"

	// Gateway messages
	MessageTypeReconfigured  MessageType = "reconfigured"
	MessageTypeTestMode      MessageType = "test_mode"
	MessageTypeGatewayStatus MessageType = "gateway_status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// PointUpdateData is one row value change.
type PointUpdateData struct {
	Key       string         `json:"key"`
	Direction utmc.Direction `json:"direction"`
	Function  string         `json:"function"`
	SiteCode  string         `json:"scn"`
	Index     *int           `json:"idx,omitempty"`
	Value     *int           `json:"value"`
}

type ReconfiguredData struct {
	Rows   int    `json:"rows"`
	Listen string `json:"listen"`
	TX     string `json:"tx"`
}

type TestModeData struct {
	Enabled bool       `json:"enabled"`
	Expires *time.Time `json:"expires"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewPointUpdateMessage(c state.Change) Message {
	data := PointUpdateData{
		Key:       c.Key,
		Direction: c.Direction,
		Function:  c.Row.Function(c.Direction),
		SiteCode:  c.Row.SiteCode(c.Direction),
		Value:     c.Value,
	}
	if idx, ok := c.Row.Index(c.Direction); ok {
		data.Index = &idx
	}
	msg := NewMessage(MessageTypePointUpdate, data)
	msg.Timestamp = c.At
	return msg
}
