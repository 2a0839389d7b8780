package session

import (
	"time"

	"github.com/relaywave/wagateway/internal/store"
)

// QRPayload is the encoded pairing image handed back to HTTP callers.
type QRPayload struct {
	ContentType string `json:"contentType"`
	Base64      string `json:"base64"`
}

// LiveState is the in-memory half of a status view.
type LiveState struct {
	IsReady     bool       `json:"isReady"`
	HasQR       bool       `json:"hasQR"`
	QRUpdatedAt *time.Time `json:"qrUpdatedAt,omitempty"`
}

// StatusView combines the persisted AgentRecord with the live session
// state, shaped the way the HTTP surface returns it.
type StatusView struct {
	UserID             int64      `json:"userId"`
	AgentID            string     `json:"agentId"`
	AgentName          string     `json:"agentName"`
	Status             string     `json:"status"`
	EndpointURLRun     *string    `json:"endpointUrlRun,omitempty"`
	LastConnectedAt    *time.Time `json:"lastConnectedAt,omitempty"`
	LastDisconnectedAt *time.Time `json:"lastDisconnectedAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	LiveState          LiveState  `json:"liveState"`
}

// DeleteResult reports the outcome of a delete, which is idempotent.
type DeleteResult struct {
	Deleted        bool `json:"deleted"`
	AlreadyRemoved bool `json:"alreadyRemoved,omitempty"`
}

// QRResult is the generate-QR response.
type QRResult struct {
	AgentID     string     `json:"agentId"`
	QR          *QRPayload `json:"qr"`
	QRUpdatedAt *time.Time `json:"qrUpdatedAt"`
}

// SendResult reports a completed outbound send.
type SendResult struct {
	Delivered   bool   `json:"delivered"`
	PreviewPath string `json:"previewPath,omitempty"`
}

func viewOf(rec *store.AgentRecord, live LiveState) *StatusView {
	return &StatusView{
		UserID:             rec.UserID,
		AgentID:            rec.AgentID,
		AgentName:          rec.AgentName,
		Status:             rec.Status,
		EndpointURLRun:     rec.EndpointURLRun,
		LastConnectedAt:    rec.LastConnectedAt,
		LastDisconnectedAt: rec.LastDisconnectedAt,
		CreatedAt:          rec.CreatedAt,
		UpdatedAt:          rec.UpdatedAt,
		LiveState:          live,
	}
}
