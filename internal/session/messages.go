package session

import "github.com/lukasbauer/hotline/internal/classifier"

// Inbound is one frame read from the transport.
type Inbound struct {
	Binary bool
	Data   []byte
}

// clientMessage is the structured text frame sent by callers.
type clientMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

const (
	msgTextQuery = "text_query"
	msgEndCall   = "end_call"
	msgPing      = "ping"
)

// ErrorCode tags error notices sent to the caller.
type ErrorCode string

const (
	CodeRateLimited     ErrorCode = "rate_limited"
	CodePayloadTooLarge ErrorCode = "payload_too_large"
	CodeMalformed       ErrorCode = "malformed"
	CodeEmptyQuery      ErrorCode = "empty_query"
	CodeUnknownType     ErrorCode = "unknown_type"
	CodeInternal        ErrorCode = "internal"
)

type greetingMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type sessionMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type errorMessage struct {
	Type       string    `json:"type"`
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	RetryAfter int       `json:"retry_after,omitempty"`
}

// ClassificationData is the classification payload emitted to callers.
type ClassificationData struct {
	ID            string             `json:"id"`
	Problem       string             `json:"problem"`
	Type          string             `json:"type"`
	Subtype       string             `json:"subtype"`
	Location      string             `json:"location,omitempty"`
	Executor      string             `json:"executor"`
	Urgency       classifier.Urgency `json:"urgency"`
	ResponseTime  int                `json:"response_time"`
	Confidence    float64            `json:"confidence"`
	NeedsOperator bool               `json:"needs_operator"`
}

type classificationMessage struct {
	Type string             `json:"type"`
	Data ClassificationData `json:"data"`
}

func newClassificationMessage(r classifier.Result) classificationMessage {
	return classificationMessage{
		Type: "classification",
		Data: ClassificationData{
			ID:            r.ID,
			Problem:       r.Problem,
			Type:          r.Type,
			Subtype:       r.Subtype,
			Location:      r.Location,
			Executor:      r.Executor,
			Urgency:       r.Urgency,
			ResponseTime:  r.ResponseTime,
			Confidence:    r.Confidence,
			NeedsOperator: r.NeedsOperator,
		},
	}
}

// Notice texts shown to callers.
const (
	noticeRateLimited  = "Забагато запитів. Спробуйте пізніше."
	noticeTooLarge     = "Аудіо занадто велике"
	noticeMalformed    = "Невірний формат повідомлення"
	noticeEmptyQuery   = "Текст запиту не може бути порожнім"
	noticeUnknownType  = "Невідомий тип повідомлення"
	noticeInternal     = "Внутрішня помилка. Спробуйте зателефонувати ще раз."
	DefaultGreeting    = "Доброго дня! Ви зателефонували на гарячу лінію контактного центру. Чим можу вам допомогти?"
	defaultMaxAudioLen = 5 << 20
)
