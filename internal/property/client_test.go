package property

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostchat/internal/domain"
	"hostchat/internal/logging"
)

func TestClient_VerifyHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/properties/p-object":
			w.Write([]byte(`{"success":true,"data":{"host":{"_id":"h1","name":"Ann"}}}`))
		case "/properties/p-string":
			w.Write([]byte(`{"property":{"host":"h1"}}`))
		case "/properties/p-hostid":
			w.Write([]byte(`{"hostId":42}`))
		case "/properties/p-nohost":
			w.Write([]byte(`{"data":{"title":"Villa"}}`))
		case "/properties/p-broken":
			w.WriteHeader(http.StatusBadGateway)
		case "/properties/p-garbage":
			w.Write([]byte(`not json`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second, logging.Discard())
	ctx := context.Background()

	assert.NoError(t, c.VerifyHost(ctx, "p-object", "h1"))
	assert.NoError(t, c.VerifyHost(ctx, "p-string", "h1"))
	assert.NoError(t, c.VerifyHost(ctx, "p-hostid", "42"))

	invalid := []struct {
		property, host, message string
	}{
		{"p-object", "h2", "Host ID does not match property owner"},
		{"p-nohost", "h1", "Property has no associated host"},
		{"p-missing", "h1", "Property not found"},
	}
	for _, tt := range invalid {
		err := c.VerifyHost(ctx, tt.property, tt.host)
		var de *domain.Error
		require.ErrorAs(t, err, &de, tt.property)
		assert.Equal(t, domain.CodeValidation, de.Code)
		assert.Equal(t, tt.message, de.Message)
	}

	for _, p := range []string{"p-broken", "p-garbage"} {
		err := c.VerifyHost(ctx, p, "h1")
		require.Error(t, err)
		var de *domain.Error
		assert.False(t, errors.As(err, &de), p)
	}
}

func TestClient_VerifyHostUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 200*time.Millisecond, logging.Discard())
	err := c.VerifyHost(context.Background(), "p", "h")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInvalidInput)
}
