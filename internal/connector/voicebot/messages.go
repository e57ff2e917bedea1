package voicebot

import "encoding/json"

// Wire shapes for the voicebot WebSocket session. Sequence number 0 is
// reserved for the start event; media events count from 1.

// MediaFormat describes the audio carried in a stream.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
}

// MediaPayload is the audio portion of a media event.
type MediaPayload struct {
	Track     string `json:"track"`
	Timestamp string `json:"timestamp"`
	Chunk     uint64 `json:"chunk"`
	Payload   string `json:"payload"` // base64 µ-law audio
}

// MediaEvent carries one framed audio chunk in either direction.
type MediaEvent struct {
	SequenceNumber uint64       `json:"sequenceNumber"`
	StreamID       string       `json:"streamId"`
	Event          string       `json:"event"`
	Media          MediaPayload `json:"media"`
}

// StartPayload announces a new stream to the backend.
type StartPayload struct {
	CallID      string      `json:"callId"`
	StreamID    string      `json:"streamId"`
	AccountID   string      `json:"accountId"`
	Tracks      []string    `json:"tracks"`
	MediaFormat MediaFormat `json:"mediaFormat"`
}

// StartEvent is the first message of a session, always sequence 0.
type StartEvent struct {
	SequenceNumber uint64       `json:"sequenceNumber"`
	Event          string       `json:"event"`
	Start          StartPayload `json:"start"`
}

// DisconnectPayload carries the reason a stream is ending.
type DisconnectPayload struct {
	Reason string `json:"reason"`
}

// DisconnectEvent tells the backend the stream is over.
type DisconnectEvent struct {
	SequenceNumber uint64            `json:"sequenceNumber"`
	StreamID       string            `json:"streamId"`
	Event          string            `json:"event"`
	Disconnect     DisconnectPayload `json:"disconnect"`
}

// inboundMessage is the envelope used to classify backend messages.
// Anything that is not a media event with a payload is treated as an
// opaque control message.
type inboundMessage struct {
	SequenceNumber uint64        `json:"sequenceNumber"`
	StreamID       string        `json:"streamId"`
	Event          string        `json:"event"`
	Media          *MediaPayload `json:"media"`
}

// classify splits a raw text message into a media event or an opaque
// control message. Returns nil, nil, err for unparseable input.
func classify(data []byte) (*MediaEvent, json.RawMessage, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, nil, err
	}

	if msg.Event == "media" && msg.Media != nil && msg.Media.Payload != "" {
		return &MediaEvent{
			SequenceNumber: msg.SequenceNumber,
			StreamID:       msg.StreamID,
			Event:          msg.Event,
			Media:          *msg.Media,
		}, nil, nil
	}

	return nil, json.RawMessage(data), nil
}
