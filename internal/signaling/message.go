// Package signaling exchanges the SDP offer, answer and ICE candidates that
// set up a WebRTC DataChannel transport, over a PIN-protected WebSocket.
package signaling

type msgType string

const (
	msgTypeOffer     msgType = "offer"
	msgTypeAnswer    msgType = "answer"
	msgTypeCandidate msgType = "candidate"
)

// message is the JSON structure exchanged over the WebSocket. Session is
// chosen by the server and echoed by the client.
type message struct {
	Type      msgType `json:"type"`
	Session   string  `json:"session"`
	SDP       string  `json:"sdp,omitempty"`
	Candidate string  `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}
