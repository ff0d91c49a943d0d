// Copyright 2025 CommerceKit Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAuthenticator_RoundTrip(t *testing.T) {
	a := NewAuthenticator("test-secret")

	token, err := a.GenerateToken("tenant1", "replica-a", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := a.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "tenant1" || claims.ReplicaID != "replica-a" {
		t.Fatalf("unexpected claims: sub=%q rid=%q", claims.Subject, claims.ReplicaID)
	}
}

func TestAuthenticator_RejectsWrongSecret(t *testing.T) {
	token, err := NewAuthenticator("secret-a").GenerateToken("tenant1", "replica-a", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := NewAuthenticator("secret-b").ValidateToken(token); err == nil {
		t.Fatal("expected validation failure for wrong secret")
	}
}

func TestAuthenticator_RejectsExpired(t *testing.T) {
	a := NewAuthenticator("test-secret")
	token, err := a.GenerateToken("tenant1", "replica-a", -time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := a.ValidateToken(token); err == nil {
		t.Fatal("expected validation failure for expired token")
	}
}

func TestMiddleware_SetsIdentity(t *testing.T) {
	a := NewAuthenticator("test-secret")
	token, err := a.GenerateToken("tenant1", "replica-a", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	var gotTenant, gotReplica string
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant, _ = TenantID(r.Context())
		gotReplica, _ = ReplicaID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotTenant != "tenant1" || gotReplica != "replica-a" {
		t.Fatalf("identity not propagated: tenant=%q replica=%q", gotTenant, gotReplica)
	}
}

func TestMiddleware_RejectsMissingHeader(t *testing.T) {
	handler := NewAuthenticator("test-secret").Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
