package protocol

import "time"

// StatusRequest asks a worker whether it can recognise a locale.
type StatusRequest struct {
	Locale string `json:"locale"`
}

// StatusReply answers a StatusRequest. Available is false when the worker has
// no recognizer for the locale; Ready is false when it has one that cannot
// take work right now.
type StatusReply struct {
	Available bool   `json:"available"`
	Ready     bool   `json:"ready"`
	Engine    string `json:"engine"`
	Error     string `json:"error,omitempty"`
}

// RecognizeRequest carries a whole audio file to a worker.
type RecognizeRequest struct {
	RequestID string `json:"request_id"`
	Locale    string `json:"locale"`
	Filename  string `json:"filename"`
	Audio     []byte `json:"audio"`
	Hint      string `json:"hint,omitempty"`
}

// Transcript is streamed back to the request's reply subject. Every message
// but the last has Partial set; the last carries either the final text or Error.
type Transcript struct {
	RequestID  string    `json:"request_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Confidence float64   `json:"confidence,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectRecognizerStatus = "stt.recognizer.status"
	SubjectRecognize        = "stt.recognize"
)
