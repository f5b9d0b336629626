package telemetry

import (
	"math"
	"math/rand"

	"github.com/CoolE88/mission-telemetry-service/internal/config"
	"github.com/CoolE88/mission-telemetry-service/internal/domain"
)

const fullBattery = 100

// Generator вычисляет следующий шаг симуляции телеметрии. Сам по себе без состояния:
// источник случайности передаётся вызывающим, поэтому результат детерминирован для заданного rng.
type Generator struct {
	originLat      float64
	originLon      float64
	originJitter   float64
	baseAltitude   float64
	altitudeJitter float64
	drainRate      float64
	positionStep   float64
	altitudeStep   float64
	altitudeFloor  float64
}

func NewGenerator(cfg config.TelemetryConfig) *Generator {
	return &Generator{
		originLat:      cfg.OriginLatitude,
		originLon:      cfg.OriginLongitude,
		originJitter:   cfg.OriginJitter,
		baseAltitude:   cfg.BaseAltitude,
		altitudeJitter: cfg.AltitudeJitter,
		drainRate:      cfg.DrainRate,
		positionStep:   cfg.PositionStep,
		altitudeStep:   cfg.AltitudeStep,
		altitudeFloor:  cfg.AltitudeFloor,
	}
}

// Initial стартовое состояние: полная батарея, позиция и высота около заданных значений
func (g *Generator) Initial(rng *rand.Rand) domain.Telemetry {
	return domain.Telemetry{
		Battery:   fullBattery,
		Latitude:  g.originLat + uniform(rng, g.originJitter),
		Longitude: g.originLon + uniform(rng, g.originJitter),
		Altitude:  math.Max(g.altitudeFloor, g.baseAltitude+uniform(rng, g.altitudeJitter)),
	}
}

// Next ровно один шаг симуляции
func (g *Generator) Next(rng *rand.Rand, cur domain.Telemetry) domain.Telemetry {
	return domain.Telemetry{
		Battery:   math.Max(0, cur.Battery-g.drainRate),
		Latitude:  cur.Latitude + uniform(rng, g.positionStep),
		Longitude: cur.Longitude + uniform(rng, g.positionStep),
		Altitude:  math.Max(g.altitudeFloor, cur.Altitude+uniform(rng, g.altitudeStep)),
	}
}

// uniform равномерно в [-d, d)
func uniform(rng *rand.Rand, d float64) float64 {
	return (rng.Float64()*2 - 1) * d
}
