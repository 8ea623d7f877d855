package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecificErrorsMatchCategory(t *testing.T) {
	cases := []struct {
		err      error
		category error
	}{
		{ErrInvalidAmount, ErrValidation},
		{ErrInvalidSide, ErrValidation},
		{ErrInvalidOutcome, ErrValidation},
		{ErrInsufficientBalance, ErrValidation},
		{ErrMarketNotFound, ErrNotFound},
		{ErrAgentNotFound, ErrNotFound},
		{ErrNotCreator, ErrForbidden},
		{ErrMarketResolved, ErrState},
		{ErrAlreadyResolved, ErrState},
		{ErrPoolInvariant, ErrConsistency},
		{ErrStalePool, ErrConsistency},
	}
	for _, tc := range cases {
		assert.True(t, errors.Is(tc.err, tc.category), "%v should wrap %v", tc.err, tc.category)
	}
	assert.False(t, errors.Is(ErrMarketResolved, ErrValidation))
	assert.Equal(t, "market not found", ErrMarketNotFound.Error())
}

func TestParseSide(t *testing.T) {
	s, err := ParseSide("yes")
	require.NoError(t, err)
	assert.Equal(t, SideYes, s)

	s, err = ParseSide(" NO ")
	require.NoError(t, err)
	assert.Equal(t, SideNo, s)

	_, err = ParseSide("MAYBE")
	assert.ErrorIs(t, err, ErrInvalidSide)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestOutcomeUnmarshalJSON(t *testing.T) {
	var body struct {
		Outcome Outcome `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"outcome":"no"}`), &body))
	assert.Equal(t, OutcomeNo, body.Outcome)
	assert.Equal(t, SideNo, body.Outcome.Side())

	err := json.Unmarshal([]byte(`{"outcome":"draw"}`), &body)
	assert.ErrorIs(t, err, ErrInvalidOutcome)
}

func TestPositionWinningShares(t *testing.T) {
	p := Position{YesShares: decimal.NewFromInt(33), NoShares: decimal.NewFromInt(5)}
	assert.True(t, p.WinningShares(OutcomeYes).Equal(decimal.NewFromInt(33)))
	assert.True(t, p.WinningShares(OutcomeNo).Equal(decimal.NewFromInt(5)))
}
