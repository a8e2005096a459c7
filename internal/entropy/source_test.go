package entropy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeededIsReproducible(t *testing.T) {
	a := NewSeeded(42)
	b := NewSeeded(42)
	for i := 0; i < 1000; i++ {
		x, y := a.Float64(), b.Float64()
		require.Equal(t, x, y, "draw %d", i)
		require.GreaterOrEqual(t, x, 0.0)
		require.Less(t, x, 1.0)
	}
	assert.Equal(t, uint64(42), a.Seed())
}

func TestSequenceWraps(t *testing.T) {
	s := NewSequence(0.1, 0.2, 0.3)
	got := []float64{s.Float64(), s.Float64(), s.Float64(), s.Float64()}
	assert.Equal(t, []float64{0.1, 0.2, 0.3, 0.1}, got)
	assert.Equal(t, 4, s.Consumed())
}

func TestSequenceRejectsOutOfRange(t *testing.T) {
	assert.Panics(t, func() { NewSequence() })
	assert.Panics(t, func() { NewSequence(0.5, 1.0) })
	assert.Panics(t, func() { NewSequence(-0.1) })
}

func TestCryptoRange(t *testing.T) {
	var c Crypto
	for i := 0; i < 1000; i++ {
		f := c.Float64()
		require.GreaterOrEqual(t, f, 0.0)
		require.Less(t, f, 1.0)
	}
}

func TestFromConfig(t *testing.T) {
	src, err := FromConfig(KindSeeded, 7, "")
	require.NoError(t, err)
	assert.IsType(t, &Seeded{}, src)

	src, err = FromConfig(KindCrypto, 0, "")
	require.NoError(t, err)
	assert.IsType(t, Crypto{}, src)

	// No key: random.org degrades to crypto.
	src, err = FromConfig(KindRandomOrg, 0, "")
	require.NoError(t, err)
	assert.IsType(t, Crypto{}, src)

	_, err = FromConfig("dice", 0, "")
	assert.Error(t, err)
}

func TestClientPoolsAndFallsBack(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var resp struct {
			Result struct {
				Random struct {
					Data []float64 `json:"data"`
				} `json:"random"`
			} `json:"result"`
		}
		for i := 0; i < 20; i++ {
			resp.Result.Random.Data = append(resp.Result.Random.Data, 0.25)
		}
		resp.Result.Random.Data = append(resp.Result.Random.Data, 1.0)
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient("key")
	c.endpoint = srv.URL
	require.True(t, c.Enabled())

	assert.Equal(t, 0.25, c.Float64())
	assert.Equal(t, 1, calls)
	assert.Len(t, c.pool, 19)

	var nilClient *Client
	assert.False(t, nilClient.Enabled())
	f := nilClient.Float64()
	assert.True(t, f >= 0 && f < 1)
}

func TestClientFallsBackOnServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": {"code": 401, "message": "bad key"}}`))
	}))
	defer srv.Close()

	c := NewClient("key")
	c.endpoint = srv.URL
	_, err := c.fetch()
	assert.ErrorContains(t, err, "bad key")

	f := c.Float64()
	assert.True(t, f >= 0 && f < 1)
	assert.Empty(t, c.pool)
}
