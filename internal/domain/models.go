package domain

import (
	"time"
)

// MissionStatus статус миссии, переход только ACTIVE -> COMPLETED
type MissionStatus string

const (
	MissionStatusActive    MissionStatus = "ACTIVE"
	MissionStatusCompleted MissionStatus = "COMPLETED"
)

// Mission представляет один симулированный полёт дрона
type Mission struct {
	ID              string        `json:"missionId" bson:"missionId" db:"mission_id"`
	Status          MissionStatus `json:"status" bson:"status" db:"status"`
	StartTime       time.Time     `json:"startTime" bson:"startTime" db:"start_time"`
	EndTime         *time.Time    `json:"endTime,omitempty" bson:"endTime" db:"end_time"`
	TotalFlightTime int64         `json:"totalFlightTime" bson:"totalFlightTime" db:"total_flight_time"` // в секундах
	CreatedAt       time.Time     `json:"createdAt" bson:"createdAt" db:"created_at"`
	UpdatedAt       time.Time     `json:"updatedAt" bson:"updatedAt" db:"updated_at"`
}

func (m *Mission) IsActive() bool {
	return m.Status == MissionStatusActive
}

// Telemetry текущее состояние телеметрии дрона
type Telemetry struct {
	Battery   float64 `json:"battery" bson:"battery"`
	Latitude  float64 `json:"latitude" bson:"latitude"`
	Longitude float64 `json:"longitude" bson:"longitude"`
	Altitude  float64 `json:"altitude" bson:"altitude"`
}

// TelemetrySample запись телеметрии, после сохранения не изменяется
type TelemetrySample struct {
	MissionID string    `json:"-" bson:"missionId"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Telemetry `bson:",inline"`
}

// MissionCounts агрегированные счётчики миссий
type MissionCounts struct {
	Total  int64
	Active int64
}

// Status сводка по сервису для /status
type Status struct {
	TotalMissions    int64 `json:"totalMissions"`
	ActiveMissions   int64 `json:"activeMissions"`
	ConnectedClients int   `json:"connectedClients"`
}
