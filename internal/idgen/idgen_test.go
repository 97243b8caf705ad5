package idgen

import (
	"encoding/hex"
	"strings"
	"testing"
)

func TestPrefixedIDs(t *testing.T) {
	tests := []struct {
		name   string
		gen    func() string
		prefix string
	}{
		{"invocation", Invocation, PrefixInvocation},
		{"subscription", Subscription, PrefixSubscription},
		{"delivery", Delivery, PrefixDelivery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := tt.gen()
			if !strings.HasPrefix(id, tt.prefix) || len(id) != len(tt.prefix)+24 {
				t.Fatalf("unexpected id %q", id)
			}
			if tt.gen() == id {
				t.Error("ids should be unique")
			}
		})
	}
}

func TestTag_DecodesTo32Bytes(t *testing.T) {
	raw, err := hex.DecodeString(Tag())
	if err != nil {
		t.Fatalf("tag is not hex: %v", err)
	}
	if len(raw) != 32 {
		t.Errorf("expected 32 bytes, got %d", len(raw))
	}
}

func TestSecretAndRequestID(t *testing.T) {
	if got := Secret(); len(got) != 64 {
		t.Errorf("secret length = %d, want 64", len(got))
	}
	if got := RequestID(); len(got) != 32 {
		t.Errorf("request id length = %d, want 32", len(got))
	}
}
