package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
)

// APIKeyMiddleware authenticates service callers against a configured set
// of keys. Requests without the header pass through to JWT auth; a present
// but unknown key is rejected outright.
type APIKeyMiddleware struct {
	headerName string
	keyHashes  []string
}

func NewAPIKeyMiddleware(headerName string, keys []string) *APIKeyMiddleware {
	hashes := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			hashes = append(hashes, HashAPIKey(k))
		}
	}
	return &APIKeyMiddleware{headerName: headerName, keyHashes: hashes}
}

func (m *APIKeyMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(m.headerName)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		hash := HashAPIKey(key)
		for _, known := range m.keyHashes {
			if subtle.ConstantTimeCompare([]byte(known), []byte(hash)) == 1 {
				ctx := WithUserID(r.Context(), "service:"+hash[:8])
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}

		writeError(w, http.StatusUnauthorized, "invalid API key")
	})
}

func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
