package envelope

import (
	"strings"
	"testing"
	"time"

	"github.com/idorocodes/qight/internal/errors"
)

func TestNew(t *testing.T) {
	before := time.Now().Unix()
	env := New("alice", "bob", []byte("hi"), 60)
	after := time.Now().Unix()

	if env.MsgID == "" {
		t.Error("New() produced empty MsgID")
	}
	if env.Sender != "alice" {
		t.Errorf("Sender = %q, want %q", env.Sender, "alice")
	}
	if env.Recipient != "bob" {
		t.Errorf("Recipient = %q, want %q", env.Recipient, "bob")
	}
	if env.TTL != 60 {
		t.Errorf("TTL = %d, want 60", env.TTL)
	}
	if env.Timestamp < uint64(before) || env.Timestamp > uint64(after) {
		t.Errorf("Timestamp = %d, want within [%d, %d]", env.Timestamp, before, after)
	}
}

func TestNew_UniqueMsgIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		env := New("a", "b", nil, 0)
		if seen[env.MsgID] {
			t.Fatalf("New() repeated MsgID %q", env.MsgID)
		}
		seen[env.MsgID] = true
	}
}

func TestExpiresAt(t *testing.T) {
	env := Envelope{Timestamp: 1000, TTL: 60}
	at, ok := env.ExpiresAt()
	if !ok {
		t.Fatal("ExpiresAt() ok = false, want true")
	}
	if want := time.Unix(1060, 0); !at.Equal(want) {
		t.Errorf("ExpiresAt() = %v, want %v", at, want)
	}

	env.TTL = 0
	if _, ok := env.ExpiresAt(); ok {
		t.Error("ExpiresAt() ok = true for zero TTL, want false")
	}
}

func TestExpired(t *testing.T) {
	env := Envelope{Timestamp: 1000, TTL: 60}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before expiry", time.Unix(1059, 0), false},
		{"exactly at expiry", time.Unix(1060, 0), true},
		{"after expiry", time.Unix(2000, 0), true},
		{"sub-second before expiry", time.Unix(1059, 999_000_000), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := env.Expired(tt.now); got != tt.want {
				t.Errorf("Expired(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestExpired_ZeroTTLNeverExpires(t *testing.T) {
	env := Envelope{Timestamp: 1, TTL: 0}
	if env.Expired(time.Unix(1<<40, 0)) {
		t.Error("Expired() = true for zero TTL")
	}
}

func TestClone(t *testing.T) {
	env := Envelope{MsgID: "m-1", Payload: []byte("abc")}
	clone := env.Clone()

	clone.Payload[0] = 'z'
	if env.Payload[0] != 'a' {
		t.Error("Clone() shares the payload with the original")
	}
}

func TestClone_NilPayload(t *testing.T) {
	env := Envelope{MsgID: "m-1"}
	if clone := env.Clone(); clone.Payload != nil {
		t.Error("Clone() materialized a nil payload")
	}
}

func TestValidate(t *testing.T) {
	valid := Envelope{MsgID: "m-1", Sender: "alice", Recipient: "bob", Payload: []byte("hi")}

	tests := []struct {
		name    string
		mutate  func(*Envelope)
		wantErr error
	}{
		{"valid", func(e *Envelope) {}, nil},
		{"empty msg_id", func(e *Envelope) { e.MsgID = "" }, nil},
		{"empty sender", func(e *Envelope) { e.Sender = "" }, nil},
		{"empty recipient", func(e *Envelope) { e.Recipient = "" }, nil},
		{"long sender", func(e *Envelope) { e.Sender = strings.Repeat("x", 256) }, errors.ErrIdentifierTooLong},
		{"big payload", func(e *Envelope) { e.Payload = make([]byte, 33) }, errors.ErrPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := valid
			tt.mutate(&env)

			err := env.Validate(255, 32)
			if tt.name == "valid" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}

			if err == nil {
				t.Fatal("Validate() error = nil, want error")
			}
			if !errors.IsValidation(err) {
				t.Errorf("Validate() error = %v, want a validation error", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsField(t *testing.T) {
	env := Envelope{MsgID: "m-1", Sender: "alice"}

	err := env.Validate(255, 1024)
	var ve *errors.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Validate() error type = %T, want *errors.ValidationError", err)
	}
	if ve.Field != "recipient" {
		t.Errorf("ValidationError.Field = %q, want %q", ve.Field, "recipient")
	}
}
