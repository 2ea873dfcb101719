package corr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureMintsWhenAbsent(t *testing.T) {
	ctx := Ensure(context.Background())
	assert.NotEmpty(t, FromContext(ctx))
}

func TestEnsurePreservesExisting(t *testing.T) {
	ctx := WithID(context.Background(), "caller-supplied-id")
	ctx = Ensure(ctx)
	assert.Equal(t, "caller-supplied-id", FromContext(ctx))
}

func TestWithIDReplacesEmpty(t *testing.T) {
	ctx := WithID(context.Background(), "")
	assert.NotEmpty(t, FromContext(ctx))
}
