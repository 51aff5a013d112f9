package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestCtx_BareContextFallsBackToGlobal(t *testing.T) {
	var buf bytes.Buffer
	orig := Logger
	Logger = zerolog.New(&buf).Level(zerolog.InfoLevel)
	defer func() { Logger = orig }()

	log := Ctx(context.Background())
	assert.NotEqual(t, zerolog.Disabled, log.GetLevel())

	log.Info().Str("document_uuid", "doc-1").Msg("准入")
	assert.Contains(t, buf.String(), "doc-1")
}

func TestCtx_ReturnsContextLogger(t *testing.T) {
	var buf bytes.Buffer
	attached := zerolog.New(&buf).Level(zerolog.WarnLevel)
	ctx := attached.WithContext(context.Background())

	log := Ctx(ctx)
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())

	log.Warn().Msg("来自上下文的记录器")
	assert.Contains(t, buf.String(), "来自上下文的记录器")
}

func TestWithContext_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	orig := Logger
	Logger = zerolog.New(&buf).Level(zerolog.InfoLevel)
	defer func() { Logger = orig }()

	ctx := WithContext(context.Background())
	Ctx(ctx).Info().Msg("全局记录器随上下文传递")
	assert.Contains(t, buf.String(), "全局记录器随上下文传递")
}
