package perrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipelineError_UnwrapSupportsErrorsIs(t *testing.T) {
	cause := errors.New("connection refused")
	err := New("provider", "openai", ErrUpstreamTransport, cause)

	assert.True(t, errors.Is(err, ErrUpstreamTransport))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrInvalidConfig))
}

func TestPipelineError_ErrorStringIncludesStageAndTransform(t *testing.T) {
	err := New("ingress", "ClampMaxTokens", ErrInvalidConfig, nil)
	assert.Contains(t, err.Error(), "ingress/ClampMaxTokens")
	assert.Contains(t, err.Error(), ErrInvalidConfig.Error())
}

func TestPipelineError_ErrorStringWithoutTransform(t *testing.T) {
	err := New("router", "", ErrInvalidConfig, nil)
	assert.NotContains(t, err.Error(), "/")
}

func TestIsInvalidConfig(t *testing.T) {
	assert.True(t, IsInvalidConfig(New("config", "", ErrInvalidConfig, nil)))
	assert.False(t, IsInvalidConfig(New("provider", "", ErrUpstreamTransport, nil)))
}

func TestIsInvalidProviderResponse(t *testing.T) {
	assert.True(t, IsInvalidProviderResponse(New("provider", "", ErrInvalidProviderResponse, nil)))
}
