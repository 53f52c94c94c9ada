package browser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDeadSession(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"target closed", errors.New("context canceled: target closed"), true},
		{"session closed", errors.New("rpc error: session closed"), true},
		{"websocket error", errors.New("websocket: close sent"), true},
		{"unrelated navigation error", errors.New("net::ERR_NAME_NOT_RESOLVED"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, isDeadSession(c.err))
		})
	}
}

func TestCloseNoopWhenNotLaunched(t *testing.T) {
	p := New("")
	assert.NoError(t, p.Close(nil))
}
