package utils

import "testing"

func TestJwtGenerateValidateRoundTrip(t *testing.T) {
	t.Setenv("TOKEN_HOUR_LIFESPAN", "1")

	token, err := JwtGenerate(42, "org-1", "service")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	parsed, err := JwtValidate(token)
	if err != nil || !parsed.Valid {
		t.Fatalf("validate: %v", err)
	}
	claims, ok := parsed.Claims.(*JwtCustomClaim)
	if !ok {
		t.Fatalf("unexpected claims type %T", parsed.Claims)
	}
	if claims.ID != 42 || claims.OrganizationId != "org-1" || claims.Role != "service" {
		t.Fatalf("claims did not round-trip: %+v", claims)
	}
}

func TestJwtGenerateRequiresLifespan(t *testing.T) {
	t.Setenv("TOKEN_HOUR_LIFESPAN", "")
	if _, err := JwtGenerate(1, "org-1", "service"); err == nil {
		t.Fatalf("missing lifespan should error")
	}
}

func TestJwtValidateRejectsGarbage(t *testing.T) {
	if _, err := JwtValidate("not-a-token"); err == nil {
		t.Fatalf("garbage token should not validate")
	}
}
