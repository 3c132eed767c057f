package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPVerifier(t *testing.T) {
	var got verifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got.SlipRef == "broken" {
			http.Error(w, "ocr down", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(Result{Success: got.AmountCents == 25900, Message: "checked"})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL, nil)
	res, err := v.Verify(context.Background(), "slip.jpg", 25900)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "slip.jpg", got.SlipRef)

	res, err = v.Verify(context.Background(), "slip.jpg", 100)
	require.NoError(t, err)
	assert.False(t, res.Success)

	_, err = v.Verify(context.Background(), "broken", 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
