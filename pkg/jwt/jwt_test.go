package jwt

import (
	"testing"
	"time"
)

func TestGenerateToken(t *testing.T) {
	tests := []struct {
		name       string
		tenantID   string
		userID     string
		deviceID   string
		role       string
		expiration time.Duration
	}{
		{
			name:       "device token",
			tenantID:   "tenant-1",
			userID:     "j.ortiz",
			deviceID:   "tablet-4",
			role:       RoleDevice,
			expiration: 12 * time.Hour,
		},
		{
			name:       "supervisor token without device",
			tenantID:   "tenant-1",
			userID:     "s.nguyen",
			role:       RoleSupervisor,
			expiration: 15 * time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := GenerateToken(tt.tenantID, tt.userID, tt.deviceID, tt.role, tt.expiration, "test-secret-key-32-characters!")
			if err != nil {
				t.Fatalf("GenerateToken() error = %v", err)
			}
			if token == "" {
				t.Error("GenerateToken() returned empty token")
			}
			if len(token) < 100 {
				t.Errorf("GenerateToken() token too short, len = %d", len(token))
			}
		})
	}
}

func TestValidateToken(t *testing.T) {
	secret := "test-secret"
	token, err := GenerateToken("tenant-1", "j.ortiz", "tablet-4", RoleDevice, time.Hour, secret)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := ValidateToken(token, secret)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}

	if claims.TenantID != "tenant-1" {
		t.Errorf("expected tenant-1, got %s", claims.TenantID)
	}
	if claims.UserID != "j.ortiz" {
		t.Errorf("expected j.ortiz, got %s", claims.UserID)
	}
	if claims.DeviceID != "tablet-4" {
		t.Errorf("expected tablet-4, got %s", claims.DeviceID)
	}
	if claims.Role != RoleDevice {
		t.Errorf("expected device role, got %s", claims.Role)
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	token, err := GenerateToken("tenant-1", "j.ortiz", "", RoleSupervisor, time.Hour, "right-secret")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	if _, err := ValidateToken(token, "wrong-secret"); err == nil {
		t.Error("expected validation failure with wrong secret")
	}
}

func TestValidateToken_Expired(t *testing.T) {
	token, err := GenerateToken("tenant-1", "j.ortiz", "", RoleSupervisor, -time.Minute, "secret")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	if _, err := ValidateToken(token, "secret"); err == nil {
		t.Error("expected validation failure for expired token")
	}
}

func TestValidateToken_Garbage(t *testing.T) {
	if _, err := ValidateToken("not-a-token", "secret"); err == nil {
		t.Error("expected validation failure for malformed token")
	}
}
