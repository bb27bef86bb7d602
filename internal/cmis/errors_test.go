package cmis

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsKind(t *testing.T) {
	err := fmt.Errorf("upload: %w", &Error{Kind: ErrNotFound, Op: "createDocument", Status: 404, Message: "gone"})

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrConstraint)
	assert.False(t, IsConnectionError(err))
	assert.Contains(t, err.Error(), "createDocument")
	assert.Contains(t, err.Error(), "(404)")

	transport := errors.New("dial tcp: refused")
	connErr := &Error{Kind: ErrConnection, Op: "connect", Err: transport}
	assert.ErrorIs(t, connErr, transport)
	assert.True(t, IsConnectionError(connErr))
	assert.Contains(t, connErr.Error(), "refused")
}

func TestKindMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{401, ErrUnauthorized},
		{403, ErrPermissionDenied},
		{404, ErrNotFound},
		{409, ErrConstraint},
		{400, ErrInvalidArgument},
		{503, ErrConnection},
		{500, ErrRuntime},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, kindFromStatus(tt.status))
		})
	}

	for _, kind := range []error{ErrNotFound, ErrPermissionDenied, ErrConstraint, ErrInvalidArgument} {
		assert.Equal(t, kind, kindFromException(ExceptionName(kind)))
		assert.Equal(t, kind, kindFromStatus(StatusFor(kind)))
	}
	assert.Nil(t, kindFromException("somethingElse"))
}

func TestParseChangesCapability(t *testing.T) {
	assert.Equal(t, ChangesObjectIDsOnly, ParseChangesCapability("objectIdsOnly"))
	assert.Equal(t, ChangesAll, ParseChangesCapability("ALL"))
	assert.Equal(t, ChangesNone, ParseChangesCapability(""))
	assert.False(t, ChangesNone.HasChangeLog())
	assert.True(t, ChangesObjectIDsOnly.HasChangeLog())
}

func TestObjectSuccinctRoundTrip(t *testing.T) {
	obj := ObjectFromSuccinct(map[string]any{
		PropObjectID:              "doc-1",
		PropName:                  "a.txt",
		PropBaseTypeID:            TypeDocument,
		PropObjectTypeID:          TypeDocument,
		PropLastModificationDate:  float64(1700000000123),
		PropContentStreamLength:   float64(12),
		PropContentStreamFileName: "a.txt",
		"custom:tags":             []any{"x", "y"},
	})

	assert.Equal(t, KindDocument, obj.Kind)
	assert.EqualValues(t, 12, obj.ContentLength)
	assert.Equal(t, int64(1700000000123), obj.ModTime.UnixMilli())
	assert.True(t, obj.Properties["custom:tags"].MultiValued)

	back := ObjectFromSuccinct(obj.SuccinctProperties())
	assert.Equal(t, obj.ID, back.ID)
	assert.Equal(t, obj.ModTime, back.ModTime)
	assert.Equal(t, obj.ContentLength, back.ContentLength)
	assert.Equal(t, []any{"x", "y"}, back.Properties["custom:tags"].Values)
}
