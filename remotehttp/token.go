// Copyright 2025 CommerceKit Authors
// SPDX-License-Identifier: Apache-2.0

package remotehttp

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// StaticSecretTokenSource mints short-lived HS256 bearer tokens from a
// shared secret, caching each token until shortly before expiry. Suitable
// for service-to-service access where the remote trusts the shared secret;
// interactive deployments plug in their own TokenSource instead.
func StaticSecretTokenSource(secret, tenantID string, ttl time.Duration) TokenSource {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	var mu sync.Mutex
	var cached string
	var expires time.Time

	return func(ctx context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()

		if cached != "" && time.Now().Before(expires.Add(-30*time.Second)) {
			return cached, nil
		}

		now := time.Now()
		claims := jwt.RegisteredClaims{
			Subject:   tenantID,
			Issuer:    "storesync",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		if err != nil {
			return "", err
		}
		cached = token
		expires = now.Add(ttl)
		return token, nil
	}
}
