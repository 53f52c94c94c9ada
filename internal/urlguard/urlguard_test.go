package urlguard

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticResolver(ips ...string) Resolver {
	addrs := make([]net.IPAddr, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, net.IPAddr{IP: net.ParseIP(ip)})
	}
	return func(ctx context.Context, host string) ([]net.IPAddr, error) {
		return addrs, nil
	}
}

func TestValidate(t *testing.T) {
	t.Run("private destination is rejected", func(t *testing.T) {
		g := New(nil)
		g.Resolver = staticResolver("10.0.0.5")
		err := g.Validate(context.Background(), "http://internal.example/")
		require.Error(t, err)
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, KindPrivateDestination, gerr.Kind)
	})

	t.Run("not allowlisted", func(t *testing.T) {
		g := New(map[string]bool{"example.org": true})
		g.Resolver = staticResolver("93.184.216.34")
		err := g.Validate(context.Background(), "http://example.com/")
		require.Error(t, err)
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, KindNotAllowlisted, gerr.Kind)
	})

	t.Run("localhost refused", func(t *testing.T) {
		g := New(nil)
		err := g.Validate(context.Background(), "http://localhost:8080/")
		require.Error(t, err)
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, KindLocalhostRefused, gerr.Kind)
	})

	t.Run("scheme forbidden", func(t *testing.T) {
		g := New(nil)
		err := g.Validate(context.Background(), "ftp://example.com/")
		require.Error(t, err)
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, KindSchemeForbidden, gerr.Kind)
	})

	t.Run("public host passes", func(t *testing.T) {
		g := New(nil)
		g.Resolver = staticResolver("93.184.216.34")
		err := g.Validate(context.Background(), "https://example.com/product")
		assert.NoError(t, err)
	})

	t.Run("link local rejected", func(t *testing.T) {
		g := New(nil)
		g.Resolver = staticResolver("169.254.1.1")
		err := g.Validate(context.Background(), "http://metadata.internal/")
		require.Error(t, err)
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, KindPrivateDestination, gerr.Kind)
	})

	t.Run("ula ipv6 rejected", func(t *testing.T) {
		g := New(nil)
		g.Resolver = staticResolver("fc00::1")
		err := g.Validate(context.Background(), "http://ula.example/")
		require.Error(t, err)
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, KindPrivateDestination, gerr.Kind)
	})
}
