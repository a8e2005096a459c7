// Package entropy supplies the uniform [0, 1) draws that drive shuffles and coin flips.
// Sources are swappable: a seeded PCG stream for reproducible runs, crypto/rand,
// a random.org pool, or a fixed replay sequence for tests.
package entropy

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	randomOrgEndpoint = "https://api.random.org/json-rpc/4/invoke"

	batchSize = 1000 // Fractions requested per refill
	lowWater  = 10   // Refill below this many pooled draws
)

// Client draws from a pool of random.org decimal fractions. When the service
// is unreachable draws come from crypto/rand until the next refill succeeds.
type Client struct {
	apiKey   string
	endpoint string
	client   *http.Client

	mu   sync.Mutex
	pool []float64
}

// NewClient returns nil when apiKey is empty; a nil Client still draws, from
// crypto/rand.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey:   apiKey,
		endpoint: randomOrgEndpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Float64 returns the next pooled draw in [0, 1).
func (c *Client) Float64() float64 {
	if c == nil {
		return cryptoFloat64()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pool) < lowWater {
		batch, err := c.fetch()
		if err != nil {
			slog.Debug("random.org refill failed", "error", err)
		}
		c.pool = append(c.pool, batch...)
	}
	if len(c.pool) == 0 {
		return cryptoFloat64()
	}

	v := c.pool[0]
	c.pool = c.pool[1:]
	return v
}

// Enabled reports whether draws can come from random.org.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int       `json:"id"`
}

type rpcParams struct {
	APIKey        string `json:"apiKey"`
	N             int    `json:"n"`
	DecimalPlaces int    `json:"decimalPlaces"`
}

type rpcResponse struct {
	Result struct {
		Random struct {
			Data []float64 `json:"data"`
		} `json:"random"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// fetch requests one batch of fractions. random.org returns values in [0, 1],
// so an exact 1 is discarded.
func (c *Client) fetch() ([]float64, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "generateDecimalFractions",
		Params:  rpcParams{APIKey: c.apiKey, N: batchSize, DecimalPlaces: 14},
		ID:      1,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Post(c.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode random.org response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("random.org error %d: %s", out.Error.Code, out.Error.Message)
	}

	batch := make([]float64, 0, len(out.Result.Random.Data))
	for _, v := range out.Result.Random.Data {
		if v >= 0 && v < 1 {
			batch = append(batch, v)
		}
	}
	if len(batch) == 0 {
		return nil, errors.New("random.org returned no usable fractions")
	}
	slog.Debug("random.org pool refilled", "count", len(batch))
	return batch, nil
}

// cryptoFloat64 takes 53 bits from crypto/rand.
func cryptoFloat64() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand.Read does not fail on supported platforms.
		panic(fmt.Sprintf("entropy: crypto/rand: %v", err))
	}
	return float64(binary.LittleEndian.Uint64(buf[:])>>11) / (1 << 53)
}
