package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mcpmux/proxy/pkg/mcperr"
)

func TestExitCodeFor_MapsKnownKindsToDedicatedCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"config", mcperr.New(mcperr.KindConfig, "config.Load", "missing field"), ExitCodeConfigError},
		{"transport", mcperr.New(mcperr.KindTransport, "transport.Dial", "refused"), ExitCodeBindError},
		{"capture", mcperr.New(mcperr.KindCapture, "intercept.NewCA", "bad org"), ExitCodeCAError},
		{"unmapped kind falls back", mcperr.New(mcperr.KindValidation, "x", "y"), ExitCodeError},
		{"plain error falls back", errors.New("boom"), ExitCodeError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, exitCodeFor(tc.err))
		})
	}
}

func TestExitCodeFor_UnwrapsThroughWrappedErrors(t *testing.T) {
	cause := mcperr.New(mcperr.KindConfig, "config.Load", "missing field")
	wrapped := mcperr.Wrap(mcperr.KindConfig, "cmd.run", cause, "loading config")
	assert.Equal(t, ExitCodeConfigError, exitCodeFor(wrapped))
}
