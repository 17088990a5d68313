package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"gobridgetracker/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const checksummed = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"checksummed", checksummed, checksummed, true},
		{"lower case", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", checksummed, true},
		{"surrounding space", "  " + checksummed + " ", checksummed, true},
		{"bad checksum", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAeD", "", false},
		{"too short", "0x5aaeb6053f", "", false},
		{"not hex", "0xzzzeb6053f3e94c9b9a09f33669435e7ef1beaed", "", false},
		{"zero", "0x0000000000000000000000000000000000000000", "", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeAddress(tt.input)
			if !tt.ok {
				assert.ErrorIs(t, err, types.ErrInvalidAddress)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatic(t *testing.T) {
	owner, err := Static("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed").CurrentOwner(context.Background())
	require.NoError(t, err)
	assert.Equal(t, checksummed, owner)

	_, err = Static("").CurrentOwner(context.Background())
	assert.ErrorIs(t, err, types.ErrInvalidAddress)
}

func TestRequestProvider(t *testing.T) {
	p := Request{Fallback: Static(checksummed)}
	other := "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"

	owner, err := p.CurrentOwner(WithOwner(context.Background(), other))
	require.NoError(t, err)
	assert.Equal(t, other, owner)

	owner, err = p.CurrentOwner(context.Background())
	require.NoError(t, err)
	assert.Equal(t, checksummed, owner)

	_, err = Request{}.CurrentOwner(context.Background())
	assert.ErrorIs(t, err, types.ErrInvalidAddress)
}

func TestMiddleware(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = Request{}.CurrentOwner(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	req.Header.Set(HEADER_OWNER, checksummed)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, checksummed, seen)

	seen = ""
	req = httptest.NewRequest(http.MethodGet, "/history?owner=0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, checksummed, seen)

	seen = "unchanged"
	req = httptest.NewRequest(http.MethodGet, "/history", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "", seen)
}
