package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const missionIDPrefix = "MISSION_"

// NewMissionID генерит идентификатор вида MISSION_<unix ms>_<9 символов [0-9a-z]>
func NewMissionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%s%d_%s", missionIDPrefix, now.UnixMilli(), suffix)
}

// IsMissionID проверяет только префикс: остальная часть идентификатора непрозрачна,
// у миссий из старых версий суффикс бывает короче
func IsMissionID(s string) bool {
	rest, ok := strings.CutPrefix(s, missionIDPrefix)
	return ok && rest != ""
}
