package auth

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"dmchat/internal/models"
)

func TestService(t *testing.T) {
	const t0Unix = 1700000000

	alice := models.Identity{ID: "a1", Email: "alice@example.com", Name: "Alice", Avatar: "https://img.example/a.png"}

	// Helper to create service with fixed time
	createService := func(t *testing.T) (*Service, *time.Time) {
		cfg := Config{
			Secret:      base64.StdEncoding.EncodeToString([]byte("server-secret")),
			TokenExpiry: time.Hour,
		}

		svc, err := NewService(context.Background(), cfg)
		if err != nil {
			t.Fatalf("Failed to create service: %v", err)
		}

		currentTime := time.Unix(t0Unix, 0)
		svc.now = func() time.Time {
			return currentTime
		}

		return svc, &currentTime
	}

	t.Run("SignAndVerify", func(t *testing.T) {
		svc, _ := createService(t)

		assertion, err := svc.Sign(alice, time.Unix(t0Unix, 0))
		if err != nil {
			t.Fatalf("Sign failed: %v", err)
		}

		got, err := svc.Verify(assertion)
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if got != alice {
			t.Errorf("Expected %+v, got %+v", alice, got)
		}
	})

	t.Run("TamperedAssertion", func(t *testing.T) {
		svc, _ := createService(t)

		assertion, _ := svc.Sign(alice, time.Unix(t0Unix, 0))
		payload, sig, _ := strings.Cut(assertion, ".")
		forged, _ := svc.Sign(models.Identity{ID: "b1", Email: "bob@example.com", Name: "Bob"}, time.Unix(t0Unix, 0))
		forgedPayload, _, _ := strings.Cut(forged, ".")

		for _, bad := range []string{
			"",
			"no-dot",
			payload + ".",
			forgedPayload + "." + sig,
			payload + ".!!!",
		} {
			if _, err := svc.Verify(bad); err != ErrInvalidAssertion {
				t.Errorf("Verify(%q): expected ErrInvalidAssertion, got %v", bad, err)
			}
		}
	})

	t.Run("ForeignSecret", func(t *testing.T) {
		svc, _ := createService(t)
		other, err := NewService(context.Background(), Config{
			Secret: base64.StdEncoding.EncodeToString([]byte("other-secret")),
		})
		if err != nil {
			t.Fatal(err)
		}

		assertion, _ := other.Sign(alice, time.Unix(t0Unix, 0))
		if _, err := svc.Verify(assertion); err != ErrInvalidAssertion {
			t.Errorf("Expected ErrInvalidAssertion, got %v", err)
		}
	})

	t.Run("StaleAssertion", func(t *testing.T) {
		svc, now := createService(t)

		assertion, _ := svc.Sign(alice, time.Unix(t0Unix, 0))
		*now = now.Add(MaxClockSkew + time.Second)

		if _, err := svc.Verify(assertion); err != ErrExpiredAssertion {
			t.Errorf("Expected ErrExpiredAssertion, got %v", err)
		}
	})

	t.Run("LoginAndLogoff", func(t *testing.T) {
		svc, _ := createService(t)

		assertion, _ := svc.Sign(alice, time.Unix(t0Unix, 0))
		token, identity, expiry, err := svc.Login(assertion)
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		if token == "" {
			t.Fatal("Expected a session token")
		}
		if identity.ID != "a1" {
			t.Errorf("Expected identity a1, got %s", identity.ID)
		}
		if !expiry.Equal(time.Unix(t0Unix, 0).Add(time.Hour)) {
			t.Errorf("Unexpected expiry %v", expiry)
		}

		userID, err := svc.GetUserID(token)
		if err != nil || userID != "a1" {
			t.Errorf("GetUserID = %q, %v", userID, err)
		}

		if err := svc.Logoff(token); err != nil {
			t.Fatalf("Logoff failed: %v", err)
		}
		if _, err := svc.GetIdentity(token); err != ErrUnknownSession {
			t.Errorf("Expected ErrUnknownSession after logoff, got %v", err)
		}
	})

	t.Run("UnknownToken", func(t *testing.T) {
		svc, _ := createService(t)
		if _, err := svc.GetIdentity(""); err != ErrUnknownSession {
			t.Errorf("Expected ErrUnknownSession, got %v", err)
		}
		if _, err := svc.GetIdentity("nope"); models.CodeOf(err) != models.CodeUnauthenticated {
			t.Errorf("Expected UNAUTHENTICATED, got %v", err)
		}
	})
}

func TestConfigValidate(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Error("Expected error for empty secret")
	}

	c = Config{Secret: "not base64!"}
	if err := c.Validate(); err == nil {
		t.Error("Expected error for invalid base64")
	}

	c = Config{Secret: base64.StdEncoding.EncodeToString([]byte("s"))}
	if err := c.Validate(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if c.TokenExpiry != DefaultTokenExpiry {
		t.Errorf("Expected default expiry, got %v", c.TokenExpiry)
	}
}
