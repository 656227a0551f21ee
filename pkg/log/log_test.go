package log

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCtxReturnsStoredLogger(t *testing.T) {
	var buf bytes.Buffer
	stored := zerolog.New(&buf)

	ctx := WithLogger(context.Background(), stored)
	Ctx(ctx).Info().Str(FieldUserID, "u1").Msg("stored logger used")

	out := buf.String()
	assert.Contains(t, out, "stored logger used")
	assert.Contains(t, out, `"user_id":"u1"`)
}

func TestCtxFallsBackToGlobal(t *testing.T) {
	l := Ctx(context.Background())
	require.NotNil(t, l)
	assert.Equal(t, L(), l)
}

func TestLevelMethodsChainWithoutAssignment(t *testing.T) {
	// L and Ctx return pointers so call sites can chain level methods
	// on the call expression itself.
	require.NotNil(t, L().Debug())
	require.NotNil(t, Ctx(context.Background()).Warn())
}
