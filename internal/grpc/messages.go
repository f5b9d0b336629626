package grpc

import (
	"time"

	"github.com/CoolE88/mission-telemetry-service/internal/domain"
)

type MissionReply struct {
	Mission          *domain.Mission `json:"mission"`
	ConnectedClients int             `json:"connectedClients"`
}

type MissionsReply struct {
	Missions []*domain.Mission `json:"missions"`
}

// TelemetryRequest поля Struct запроса GetTelemetry
type TelemetryRequest struct {
	MissionID string `json:"missionId"`
	Limit     int    `json:"limit"`
}

type TelemetryReply struct {
	MissionID string                    `json:"missionId"`
	Count     int                       `json:"count"`
	Telemetry []*domain.TelemetrySample `json:"telemetry"`
}

// Event сообщение потока подписки на стороне клиента: объединение полей всех конвертов,
// заполнены те, что есть у пришедшего Type
type Event struct {
	Type            string               `json:"type"`
	MissionID       string               `json:"missionId,omitempty"`
	Message         string               `json:"message,omitempty"`
	Status          domain.MissionStatus `json:"status,omitempty"`
	StartTime       *time.Time           `json:"startTime,omitempty"`
	Timestamp       *time.Time           `json:"timestamp,omitempty"`
	EndTime         *time.Time           `json:"endTime,omitempty"`
	TotalFlightTime int64                `json:"totalFlightTime,omitempty"`
	Data            *domain.Telemetry    `json:"data,omitempty"`
}

// Terminal после этого события сервер закрывает поток
func (e *Event) Terminal() bool {
	return e.Type == domain.MessageMissionCompleted || e.Type == domain.MessageBatteryDepleted
}
