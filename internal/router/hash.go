package router

import (
	"encoding/json"

	"golang.org/x/crypto/blake2b"
)

type cacheKeyInput struct {
	Method string `json:"method"`
	Params string `json:"params"`
}

// CacheKey derives a stable key for an idempotent RPC call. Params are
// canonicalized through JSON so semantically equal calls share a key.
func CacheKey(method string, params []any) ([32]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return [32]byte{}, err
	}

	canonical, err := json.Marshal(cacheKeyInput{Method: method, Params: string(raw)})
	if err != nil {
		return [32]byte{}, err
	}

	return blake2b.Sum256(canonical), nil
}
