package infra

import (
	"context"
	"testing"
	"time"
)

func TestJWTVerifier_RoundTrip(t *testing.T) {
	tok, err := SignDevToken("secret", "driver42", "driver", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, err := NewJWTVerifier("secret").VerifyIDToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.UID != "driver42" {
		t.Errorf("uid = %q", got.UID)
	}
	if got.Claims["role"] != "driver" {
		t.Errorf("role claim = %v", got.Claims["role"])
	}
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	tok, _ := SignDevToken("secret", "p1", "", time.Minute)
	if _, err := NewJWTVerifier("other").VerifyIDToken(context.Background(), tok); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestJWTVerifier_Expired(t *testing.T) {
	tok, _ := SignDevToken("secret", "p1", "", -time.Minute)
	if _, err := NewJWTVerifier("secret").VerifyIDToken(context.Background(), tok); err == nil {
		t.Fatal("expected expiry error")
	}
}
