package tenantctx

import (
	"context"
	"testing"
)

func TestTenantIDRoundTrip(t *testing.T) {
	ctx := WithTenantID(context.Background(), "  tenant-a ")
	got, ok := TenantID(ctx)
	if !ok || got != "tenant-a" {
		t.Fatalf("expected tenant-a, got %q (%v)", got, ok)
	}
}

func TestTenantIDIgnoresBlank(t *testing.T) {
	ctx := WithTenantID(context.Background(), " ")
	if _, ok := TenantID(ctx); ok {
		t.Fatalf("blank tenant id must not be stored")
	}
}
