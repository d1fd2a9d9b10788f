package auth

import (
	"errors"
	"testing"
	"time"
)

func TestAuthenticate_DisabledAlwaysPasses(t *testing.T) {
	m := New(NewConfig(false, nil, nil, "", 300))
	if err := m.Authenticate("", "", ""); err != nil {
		t.Fatalf("expected nil error when auth disabled, got %v", err)
	}
}

func TestAuthenticate_AllowedDevice(t *testing.T) {
	m := New(NewConfig(true, []string{"dev1"}, nil, "", 300))
	if err := m.Authenticate("dev1", "client1", ""); err != nil {
		t.Fatalf("expected allow-listed device to pass without a token, got %v", err)
	}
	if err := m.Authenticate("dev2", "client1", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected non-allow-listed device without a token to fail, got %v", err)
	}
}

func TestAuthenticate_StaticToken(t *testing.T) {
	m := New(NewConfig(true, nil, []string{"secrettoken"}, "", 300))
	if err := m.Authenticate("dev1", "client1", "Bearer secrettoken"); err != nil {
		t.Fatalf("expected static token to pass, got %v", err)
	}
	if err := m.Authenticate("dev1", "client1", "Bearer wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected wrong static token to fail, got %v", err)
	}
}

func TestAuthenticate_HMACRoundTrip(t *testing.T) {
	m := New(NewConfig(true, nil, nil, "shh", 300))
	token := GenerateToken("shh", "client1", "dev1", time.Now().Unix())
	if err := m.Authenticate("dev1", "client1", "Bearer "+token); err != nil {
		t.Fatalf("expected valid HMAC token to pass, got %v", err)
	}
}

func TestAuthenticate_HMACTamperedSignatureRejected(t *testing.T) {
	m := New(NewConfig(true, nil, nil, "shh", 300))
	token := GenerateToken("shh", "client1", "dev1", time.Now().Unix())
	replacement := "A"
	if token[0] == 'A' {
		replacement = "B"
	}
	tampered := replacement + token[1:]
	if err := m.Authenticate("dev1", "client1", "Bearer "+tampered); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected tampered signature to fail, got %v", err)
	}
}

func TestAuthenticate_HMACWrongClientRejected(t *testing.T) {
	m := New(NewConfig(true, nil, nil, "shh", 300))
	token := GenerateToken("shh", "client1", "dev1", time.Now().Unix())
	if err := m.Authenticate("dev1", "other-client", "Bearer "+token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected token signed for a different client to fail, got %v", err)
	}
}

func TestAuthenticate_HMACExpiredRejected(t *testing.T) {
	m := New(NewConfig(true, nil, nil, "shh", 60))
	old := time.Now().Add(-2 * time.Minute).Unix()
	token := GenerateToken("shh", "client1", "dev1", old)
	if err := m.Authenticate("dev1", "client1", "Bearer "+token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestAuthenticate_HMACRespectsInjectedClock(t *testing.T) {
	m := New(NewConfig(true, nil, nil, "shh", 60))
	frozen := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return frozen }

	token := GenerateToken("shh", "client1", "dev1", frozen.Unix())
	if err := m.Authenticate("dev1", "client1", "Bearer "+token); err != nil {
		t.Fatalf("expected token fresh at the frozen clock to pass, got %v", err)
	}

	m.now = func() time.Time { return frozen.Add(2 * time.Minute) }
	if err := m.Authenticate("dev1", "client1", "Bearer "+token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected token to expire once the clock advances past ExpireSeconds, got %v", err)
	}
}

func TestAuthenticate_NoTokenNoAllowListRejected(t *testing.T) {
	m := New(NewConfig(true, nil, nil, "shh", 300))
	if err := m.Authenticate("dev1", "client1", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected empty token to fail, got %v", err)
	}
}
