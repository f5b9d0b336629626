package domain

import "errors"

var (
	ErrMissionNotFound         = errors.New("mission not found")
	ErrMissionAlreadyCompleted = errors.New("mission is already completed")
	ErrDuplicateMission        = errors.New("duplicate mission id")
	ErrInvalidInput            = errors.New("invalid input")
)
