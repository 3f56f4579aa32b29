package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructorsSetKindAndCode(t *testing.T) {
	cases := []struct {
		name string
		err  *HubError
		kind Kind
		code string
	}{
		{"auth required", AuthRequired(), KindAuthentication, CodeAuthRequired},
		{"authentication", Authentication("bad token"), KindAuthentication, CodeInvalidCredentials},
		{"connection", Connection("not open"), KindConnection, CodeNotConnected},
		{"target not found", TargetNotFound("bob"), KindClientNotFound, CodeTargetNotFound},
		{"target unavailable", TargetUnavailable("bob"), KindConnection, CodeTargetUnavailable},
		{"timeout", Timeout("request", "add", "10s"), KindTimeout, CodeRequestTimeout},
		{"handler not found", HandlerNotFound("add"), KindHandlerNotFound, CodeHandlerNotFound},
		{"protocol", Protocol("missing id"), KindProtocol, CodeProtocolError},
		{"network", Network(errors.New("reset")), KindNetwork, CodeNetworkError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, tc.err.Kind)
			assert.Equal(t, tc.code, tc.err.Code)
			assert.NotEmpty(t, tc.err.Error())
		})
	}
}

func TestErrorStringIncludesDetails(t *testing.T) {
	err := TargetNotFound("bob")
	assert.Contains(t, err.Error(), "bob")

	bare := AuthRequired()
	assert.NotContains(t, bare.Error(), "(")
}

func TestErrorsAsUnwrapsHubError(t *testing.T) {
	var err error = HandlerNotFound("missing")

	var he *HubError
	if !errors.As(err, &he) {
		t.Fatal("expected errors.As to match *HubError")
	}
	assert.Equal(t, KindHandlerNotFound, he.Kind)
}
