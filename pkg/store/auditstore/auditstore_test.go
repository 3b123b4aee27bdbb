package auditstore

import "testing"

func TestTenantLockID_Deterministic(t *testing.T) {
	a := tenantLockID("tenant-a")
	b := tenantLockID("tenant-a")
	if a != b {
		t.Errorf("tenantLockID not deterministic: %d != %d", a, b)
	}
}

func TestTenantLockID_DiffersAcrossTenants(t *testing.T) {
	a := tenantLockID("tenant-a")
	b := tenantLockID("tenant-b")
	if a == b {
		t.Error("tenantLockID should differ across tenants")
	}
}
