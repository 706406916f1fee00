package gateway

// Wire protocol between the browser client and the gateway. Text frames
// carry JSON messages; binary frames carry audio. From the client, binary
// frames are raw 16-bit little-endian PCM for server-side recognition. To
// the client, binary frames are synthesized feedback audio.

// Client → server message types.
const (
	msgHello  = "hello"  // first message on every connection
	msgToggle = "toggle" // push-to-talk toggle pressed
	msgResult = "result" // client-side recognition produced a transcript
	msgError  = "error"  // client-side recognition failed
	msgEnd    = "end"    // client-side recognition session ended
)

// Server → client message types.
const (
	msgState    = "state"    // listening-indicator updates
	msgNavigate = "navigate" // instruct the client to change route
	msgNotice   = "notice"   // on-screen notice
	msgSpeak    = "speak"    // client-side synthesis request
	msgCapture  = "capture"  // client-side recognition control
)

// Recognition modes declared in the hello message.
const (
	recognitionClient = "client" // browser runs the Web Speech API
	recognitionServer = "server" // browser streams PCM, server transcribes
)

// clientMessage is any JSON text frame received from the browser.
type clientMessage struct {
	Type string `json:"type"`

	// hello fields
	Role        string `json:"role,omitempty"`
	Recognition string `json:"recognition,omitempty"`
	Supported   *bool  `json:"supported,omitempty"`

	// result fields
	Transcript string `json:"transcript,omitempty"`

	// error fields: a Web Speech API error code such as "no-speech",
	// "not-allowed", or "audio-capture".
	Code string `json:"code,omitempty"`
}

// serverMessage is any JSON text frame sent to the browser.
type serverMessage struct {
	Type string `json:"type"`

	// state fields
	State string `json:"state,omitempty"`

	// navigate fields
	Target string `json:"target,omitempty"`

	// notice and speak fields
	Kind string `json:"kind,omitempty"`
	Text string `json:"text,omitempty"`

	// capture fields: "start" or "stop"
	Action string `json:"action,omitempty"`
}
