package prediction

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusSuccess = "success"
	StatusFail    = "fail"

	msgPredicted      = "Model is predicted successfully"
	errorInPrediction = "Error in prediction"

	// Suggestion is the advisory text attached to every verdict.
	Suggestion = "Consult a specialist"

	// TimestampFormat is ISO-8601 UTC with millisecond precision.
	TimestampFormat = "2006-01-02T15:04:05.000Z"
)

// Record is the prediction payload.
type Record struct {
	ID         string `json:"id"`
	Result     Label  `json:"result"`
	Suggestion string `json:"suggestion"`
	CreatedAt  string `json:"createdAt"`
}

// Envelope wraps every response body.
type Envelope struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Data    *Record `json:"data,omitempty"`
}

// Formatter assembles success envelopes.
type Formatter struct {
	now   func() time.Time
	newID func() string
}

func NewFormatter() *Formatter {
	return &Formatter{now: time.Now, newID: uuid.NewString}
}

// Format builds a fresh record for label.
func (f *Formatter) Format(label Label) Envelope {
	return Envelope{
		Status:  StatusSuccess,
		Message: msgPredicted,
		Data: &Record{
			ID:         f.newID(),
			Result:     label,
			Suggestion: Suggestion,
			CreatedAt:  f.now().UTC().Format(TimestampFormat),
		},
	}
}

// Failure builds a fail envelope.
func Failure(message string) Envelope {
	return Envelope{Status: StatusFail, Message: message}
}
