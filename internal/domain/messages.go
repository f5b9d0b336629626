package domain

import "time"

// Типы сообщений потокового канала
const (
	MessageSubscribed       = "subscribed"
	MessageUnsubscribed     = "unsubscribed"
	MessageMissionUpdate    = "mission_update"
	MessageTelemetry        = "telemetry"
	MessageMissionCompleted = "mission_completed"
	MessageBatteryDepleted  = "battery_depleted"
	MessageError            = "error"

	MessageSubscribe   = "subscribe"
	MessageUnsubscribe = "unsubscribe"
)

// Стабильные тексты ошибок, которые видит клиент
const (
	ErrTextMissionNotFound         = "Mission not found"
	ErrTextMissionAlreadyCompleted = "Mission already completed"
	ErrTextInvalidJSON             = "Invalid JSON format"
	ErrTextInvalidMessage          = `Invalid message format. Use: {"type": "subscribe", "missionId": "MISSION_ID"}`
)

// ClientMessage входящее сообщение от подписчика
type ClientMessage struct {
	Type      string `json:"type"`
	MissionID string `json:"missionId"`
}

type SubscribedMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	MissionID string `json:"missionId"`
}

type UnsubscribedMessage struct {
	Type      string `json:"type"`
	MissionID string `json:"missionId"`
}

type MissionUpdateMessage struct {
	Type      string        `json:"type"`
	MissionID string        `json:"missionId"`
	Status    MissionStatus `json:"status"`
	StartTime time.Time     `json:"startTime"`
	Timestamp time.Time     `json:"timestamp"`
}

type TelemetryMessage struct {
	Type      string    `json:"type"`
	MissionID string    `json:"missionId"`
	Timestamp time.Time `json:"timestamp"`
	Data      Telemetry `json:"data"`
}

// MissionEndedMessage уходит подписчикам при завершении миссии,
// Type: mission_completed или battery_depleted
type MissionEndedMessage struct {
	Type            string        `json:"type"`
	MissionID       string        `json:"missionId"`
	Status          MissionStatus `json:"status"`
	EndTime         *time.Time    `json:"endTime,omitempty"`
	TotalFlightTime int64         `json:"totalFlightTime"`
}

type ErrorMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	MissionID string `json:"missionId,omitempty"`
}

func NewSubscribedMessage(missionID string) SubscribedMessage {
	return SubscribedMessage{
		Type:      MessageSubscribed,
		Message:   "Successfully subscribed to mission",
		MissionID: missionID,
	}
}

func NewMissionUpdateMessage(m *Mission, now time.Time) MissionUpdateMessage {
	return MissionUpdateMessage{
		Type:      MessageMissionUpdate,
		MissionID: m.ID,
		Status:    m.Status,
		StartTime: m.StartTime,
		Timestamp: now,
	}
}

func NewTelemetryMessage(sample TelemetrySample) TelemetryMessage {
	return TelemetryMessage{
		Type:      MessageTelemetry,
		MissionID: sample.MissionID,
		Timestamp: sample.Timestamp,
		Data:      sample.Telemetry,
	}
}

func NewMissionEndedMessage(kind string, m *Mission) MissionEndedMessage {
	return MissionEndedMessage{
		Type:            kind,
		MissionID:       m.ID,
		Status:          m.Status,
		EndTime:         m.EndTime,
		TotalFlightTime: m.TotalFlightTime,
	}
}

func NewErrorMessage(text, missionID string) ErrorMessage {
	return ErrorMessage{Type: MessageError, Message: text, MissionID: missionID}
}
