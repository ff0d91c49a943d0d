// Copyright 2025 CommerceKit Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
)

type contextKey string

const (
	tenantIDKey  contextKey = "tenant_id"
	replicaIDKey contextKey = "replica_id"
)

// SetTenantID sets the tenant ID in the context
func SetTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantID retrieves the tenant ID from the context
func TenantID(ctx context.Context) (string, bool) {
	tenantID, ok := ctx.Value(tenantIDKey).(string)
	return tenantID, ok
}

// SetReplicaID sets the replica ID in the context
func SetReplicaID(ctx context.Context, replicaID string) context.Context {
	return context.WithValue(ctx, replicaIDKey, replicaID)
}

// ReplicaID retrieves the replica ID from the context
func ReplicaID(ctx context.Context) (string, bool) {
	replicaID, ok := ctx.Value(replicaIDKey).(string)
	return replicaID, ok
}

// SetIdentity sets both tenant and replica ID in the context
func SetIdentity(ctx context.Context, tenantID, replicaID string) context.Context {
	ctx = SetTenantID(ctx, tenantID)
	ctx = SetReplicaID(ctx, replicaID)
	return ctx
}
