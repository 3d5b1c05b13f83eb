package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/stresspulse/internal/domain"
	"github.com/tidwall/gjson"
)

const (
	TypeConnected     = "connected"
	TypeStressUpdate  = "stress-update"
	TypeSummaryUpdate = "summary-update"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeError         = "error"
)

// Outbound is the closed set of server-to-client messages.
type Outbound interface{ isOutbound() }

type baseOutbound struct{}

func (baseOutbound) isOutbound() {}

type Connected struct {
	baseOutbound
	Message string
	UserID  *uuid.UUID
}

type StressUpdate struct {
	baseOutbound
	Data StressUpdateData
}

type StressUpdateData struct {
	ID            int64     `json:"id"`
	UserID        uuid.UUID `json:"userId"`
	Username      string    `json:"username"`
	StressLevel   int       `json:"stressLevel"`
	IsSuperstress bool      `json:"isSuperstress"`
	Timestamp     time.Time `json:"timestamp"`
	FunnyMessage  string    `json:"funnyMessage,omitempty"`
}

type SummaryUpdate struct {
	baseOutbound
	Data domain.Summary
}

type Ping struct{ baseOutbound }

type Pong struct {
	baseOutbound
	Time time.Time
}

type Error struct {
	baseOutbound
	Message string
}

// NewStressUpdate builds the point update for an accepted reading.
func NewStressUpdate(r domain.Reading, u domain.User, funnyMessage string) StressUpdate {
	return StressUpdate{Data: StressUpdateData{
		ID:            r.ID,
		UserID:        u.ID,
		Username:      u.Username,
		StressLevel:   r.Level,
		IsSuperstress: r.IsSuperstress,
		Timestamp:     r.CreatedAt,
		FunnyMessage:  funnyMessage,
	}}
}

type typed struct {
	Type string `json:"type"`
}

// Encode serializes a message into its wire form with the "type" discriminator.
func Encode(msg Outbound) ([]byte, error) {
	var v any
	switch m := msg.(type) {
	case Connected:
		v = struct {
			typed
			Message string     `json:"message"`
			UserID  *uuid.UUID `json:"userId,omitempty"`
		}{typed{TypeConnected}, m.Message, m.UserID}
	case StressUpdate:
		v = struct {
			typed
			Data StressUpdateData `json:"data"`
		}{typed{TypeStressUpdate}, m.Data}
	case SummaryUpdate:
		v = struct {
			typed
			Data domain.Summary `json:"data"`
		}{typed{TypeSummaryUpdate}, m.Data}
	case Ping:
		v = typed{TypePing}
	case Pong:
		v = struct {
			typed
			Time time.Time `json:"time"`
		}{typed{TypePong}, m.Time}
	case Error:
		v = struct {
			typed
			Message string `json:"message"`
		}{typed{TypeError}, m.Message}
	default:
		return nil, fmt.Errorf("unknown outbound message %T", msg)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", msg, err)
	}
	return data, nil
}

// Inbound is the closed set of client-to-server messages.
type Inbound interface{ isInbound() }

type InboundPing struct{}

// InboundUnknown carries the type of a message the server does not handle.
type InboundUnknown struct{ Type string }

func (InboundPing) isInbound()    {}
func (InboundUnknown) isInbound() {}

var ErrMalformedMessage = errors.New("malformed message")

// DecodeInbound classifies a client frame by its "type" field.
func DecodeInbound(data []byte) (Inbound, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrMalformedMessage
	}
	switch t := gjson.GetBytes(data, "type").String(); t {
	case TypePing:
		return InboundPing{}, nil
	default:
		return InboundUnknown{Type: t}, nil
	}
}
