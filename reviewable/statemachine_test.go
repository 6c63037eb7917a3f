package reviewable

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitions(t *testing.T) {
	assert := assert.New(t)

	next, err := NextStatus(StatusPending, VerbApprove)
	assert.NoError(err)
	assert.Equal(StatusApproved, next)

	for _, s := range []Status{StatusApproved, StatusRejected, StatusIgnored, StatusDeleted} {
		assert.True(s.Terminal())
		for _, v := range []Verb{VerbApprove, VerbReject, VerbIgnore, VerbDelete} {
			_, err := NextStatus(s, v)
			assert.ErrorIs(err, ErrInvalidTransition, "%s/%s", s, v)
		}
		next, err := NextStatus(s, VerbRevert)
		assert.NoError(err)
		assert.Equal(StatusPending, next)
	}

	_, err = NextStatus(StatusPending, VerbRevert)
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(StatusPending, te.From)
	assert.Equal("revert", te.Action)

	assert.False(CanTransition(StatusPending, verbEdit))
	assert.False(StatusPending.Terminal())
}

func TestParseStatusPriority(t *testing.T) {
	s, err := ParseStatus("ignored")
	assert.NoError(t, err)
	assert.Equal(t, StatusIgnored, s)
	_, err = ParseStatus("archived")
	assert.ErrorIs(t, err, ErrValidation)

	p, err := ParsePriority("high")
	assert.NoError(t, err)
	assert.Equal(t, PriorityHigh, p)
	_, err = ParsePriority("urgent")
	assert.ErrorIs(t, err, ErrValidation)
}
