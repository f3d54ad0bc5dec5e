// Package audit is the append-only record of every state-changing
// operation. Emission is fire-and-forget: a failed audit write is
// logged, never allowed to fail the operation it describes.
package audit

import (
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type Sink struct {
	db     *gorm.DB
	logger zerolog.Logger
}

func NewSink(db *gorm.DB) *Sink {
	return &Sink{
		db:     db,
		logger: log.With().Str("service", "audit").Logger(),
	}
}

// Emit appends one entry. The detail value is marshalled to JSON; a
// value that cannot marshal is recorded as an empty detail rather than
// dropped.
func (s *Sink) Emit(kind, accountID, targetType, targetID, outcome string, detail interface{}) {
	var payload string
	if detail != nil {
		data, err := json.Marshal(detail)
		if err != nil {
			s.logger.Error().Err(err).
				Str("kind", kind).
				Str("account_id", accountID).
				Msg("failed to marshal audit detail")
		} else {
			payload = string(data)
		}
	}

	entry := Entry{
		Kind:       kind,
		AccountID:  accountID,
		TargetType: targetType,
		TargetID:   targetID,
		Outcome:    outcome,
		Detail:     payload,
	}
	if err := s.db.Create(&entry).Error; err != nil {
		s.logger.Error().Err(err).
			Str("kind", kind).
			Str("account_id", accountID).
			Str("target_id", targetID).
			Msg("failed to write audit entry")
	}
}

// List pages through recorded entries, newest first.
func (s *Sink) List(filter EntryFilter) ([]Entry, int64, error) {
	query := s.db.Model(&Entry{})
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.AccountID != "" {
		query = query.Where("account_id = ?", filter.AccountID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 500 {
		pageSize = 500
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}

	var entries []Entry
	err := query.
		Order("id desc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
