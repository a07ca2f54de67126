package models

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type CriteriaType string

const (
	CriteriaFirstSave           CriteriaType = "first_save"
	CriteriaStreak              CriteriaType = "streak"
	CriteriaTotalSaved          CriteriaType = "total_saved"
	CriteriaChallengesCompleted CriteriaType = "challenges_completed"
	CriteriaRank                CriteriaType = "rank"
)

// Criteria is the closed set of achievement conditions. The variants below
// are the only implementations.
type Criteria interface {
	Type() CriteriaType
	criteria()
}

// FirstSaveCriteria holds on a transaction of at least MinAmount.
type FirstSaveCriteria struct {
	MinAmount decimal.Decimal
}

// StreakCriteria holds once the user's current streak reaches Days.
type StreakCriteria struct {
	Days int
}

// TotalSavedCriteria holds once lifetime savings reach Amount.
type TotalSavedCriteria struct {
	Amount decimal.Decimal
}

// ChallengesCompletedCriteria holds once the user has completed Count challenges.
type ChallengesCompletedCriteria struct {
	Count int64
}

// RankCriteria holds when the user sits at exactly Position in a challenge,
// optionally pinned to one ChallengeID.
type RankCriteria struct {
	Position    int
	ChallengeID *string
}

func (FirstSaveCriteria) Type() CriteriaType           { return CriteriaFirstSave }
func (StreakCriteria) Type() CriteriaType              { return CriteriaStreak }
func (TotalSavedCriteria) Type() CriteriaType          { return CriteriaTotalSaved }
func (ChallengesCompletedCriteria) Type() CriteriaType { return CriteriaChallengesCompleted }
func (RankCriteria) Type() CriteriaType                { return CriteriaRank }

func (FirstSaveCriteria) criteria()           {}
func (StreakCriteria) criteria()              {}
func (TotalSavedCriteria) criteria()          {}
func (ChallengesCompletedCriteria) criteria() {}
func (RankCriteria) criteria()                {}

// criteriaDoc is the stored JSON shape.
type criteriaDoc struct {
	Type        CriteriaType     `json:"type"`
	MinAmount   *decimal.Decimal `json:"minAmount,omitempty"`
	Days        *int             `json:"days,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Count       *int64           `json:"count,omitempty"`
	Position    *int             `json:"position,omitempty"`
	ChallengeID *string          `json:"challengeId,omitempty"`
}

// ParseCriteria decodes and validates a criteria document.
func ParseCriteria(raw []byte) (Criteria, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty criteria", ErrInvalidArgument)
	}
	var doc criteriaDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: malformed criteria: %v", ErrInvalidArgument, err)
	}

	switch doc.Type {
	case CriteriaFirstSave:
		c := FirstSaveCriteria{MinAmount: decimal.Zero}
		if doc.MinAmount != nil {
			if doc.MinAmount.IsNegative() {
				return nil, fmt.Errorf("%w: first_save minAmount must not be negative", ErrInvalidArgument)
			}
			c.MinAmount = *doc.MinAmount
		}
		return c, nil
	case CriteriaStreak:
		if doc.Days == nil || *doc.Days < 1 {
			return nil, fmt.Errorf("%w: streak criteria requires days >= 1", ErrInvalidArgument)
		}
		return StreakCriteria{Days: *doc.Days}, nil
	case CriteriaTotalSaved:
		if doc.Amount == nil || !doc.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: total_saved criteria requires a positive amount", ErrInvalidArgument)
		}
		return TotalSavedCriteria{Amount: *doc.Amount}, nil
	case CriteriaChallengesCompleted:
		if doc.Count == nil || *doc.Count < 1 {
			return nil, fmt.Errorf("%w: challenges_completed criteria requires count >= 1", ErrInvalidArgument)
		}
		return ChallengesCompletedCriteria{Count: *doc.Count}, nil
	case CriteriaRank:
		if doc.Position == nil || *doc.Position < 1 {
			return nil, fmt.Errorf("%w: rank criteria requires position >= 1", ErrInvalidArgument)
		}
		return RankCriteria{Position: *doc.Position, ChallengeID: doc.ChallengeID}, nil
	default:
		return nil, fmt.Errorf("%w: unknown criteria type %q", ErrInvalidArgument, doc.Type)
	}
}

// EncodeCriteria renders a criteria variant into its stored JSON shape.
func EncodeCriteria(c Criteria) (datatypes.JSON, error) {
	doc := criteriaDoc{Type: c.Type()}
	switch v := c.(type) {
	case FirstSaveCriteria:
		doc.MinAmount = &v.MinAmount
	case StreakCriteria:
		doc.Days = &v.Days
	case TotalSavedCriteria:
		doc.Amount = &v.Amount
	case ChallengesCompletedCriteria:
		doc.Count = &v.Count
	case RankCriteria:
		doc.Position = &v.Position
		doc.ChallengeID = v.ChallengeID
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
