package apperrors

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordError_MatchesMalformedRecord(t *testing.T) {
	_, parseErr := strconv.ParseFloat("bad", 64)
	err := &RecordError{Table: "accommodations", Key: "Hotel du Lac", Reason: "score is not a number", Err: parseErr}

	assert.ErrorIs(t, err, ErrMalformedRecord)
	assert.ErrorIs(t, err, strconv.ErrSyntax)
	assert.NotErrorIs(t, err, ErrPersistence)
	assert.Contains(t, err.Error(), `accommodations row "Hotel du Lac"`)
}

func TestWrappers(t *testing.T) {
	cause := errors.New("HTTP 503")

	fetchErr := Fetch("Paris", cause)
	assert.ErrorIs(t, fetchErr, ErrFetchFailure)
	assert.ErrorIs(t, fetchErr, cause)

	persistErr := Persistence("cities", cause)
	assert.ErrorIs(t, persistErr, ErrPersistence)
	assert.Contains(t, persistErr.Error(), "cities")
}
