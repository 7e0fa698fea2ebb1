package domain

import "time"

// Sender identifica el origen de un mensaje dentro de la conversacion.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// MessageStatus refleja el ciclo optimista de un mensaje enviado.
type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
)

// Message es la unidad basica de la conversacion. El ID se genera en el
// cliente para entradas optimistas y el backend lo puede corregir al
// confirmar la persistencia.
type Message struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"session_id,omitempty"`
	Text        string        `json:"text"`
	Sender      Sender        `json:"sender"`
	Timestamp   time.Time     `json:"timestamp"`
	Status      MessageStatus `json:"status"`
	AudioPath   string        `json:"audio_path,omitempty"`
	Suggestions []string      `json:"suggestions,omitempty"`
	Favorite    bool          `json:"favorite,omitempty"`
	SavedAsFaq  bool          `json:"saved_as_faq,omitempty"`
}
