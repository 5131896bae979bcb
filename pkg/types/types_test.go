package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		name     string
		userType string
		want     Role
		wantErr  error
	}{
		{name: "counselor", userType: "counselor", want: RoleCounselor},
		{name: "client", userType: "client", want: RoleClient},
		{name: "empty", userType: "", wantErr: ErrInvalidRole},
		{name: "wrong case", userType: "Client", wantErr: ErrInvalidRole},
		{name: "unknown", userType: "admin", wantErr: ErrInvalidRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRole(tt.userType)
			if err != tt.wantErr {
				t.Fatalf("ParseRole(%q) error = %v, want %v", tt.userType, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseRole(%q) = %q, want %q", tt.userType, got, tt.want)
			}
		})
	}
}

func TestIsValidClientID(t *testing.T) {
	tests := []struct {
		name     string
		clientID string
		want     bool
	}{
		{name: "ascii", clientID: "alice", want: true},
		{name: "hangul", clientID: "내담자1", want: true},
		{name: "with spaces", clientID: "kim min", want: true},
		{name: "max length", clientID: strings.Repeat("가", MaxClientIDLength), want: true},
		{name: "empty", clientID: "", want: false},
		{name: "too long", clientID: strings.Repeat("a", MaxClientIDLength+1), want: false},
		{name: "control char", clientID: "bob\n", want: false},
		{name: "invalid utf8", clientID: string([]byte{0xff, 0xfe}), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidClientID(tt.clientID); got != tt.want {
				t.Errorf("IsValidClientID(%q) = %v, want %v", tt.clientID, got, tt.want)
			}
		})
	}
}

func TestValidateBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		maxLen  int
		wantErr error
	}{
		{name: "plain", body: "hello", maxLen: 10},
		{name: "unlimited", body: strings.Repeat("x", 5000), maxLen: 0},
		{name: "exactly max", body: "안녕하세요", maxLen: 5},
		{name: "empty", body: "", maxLen: 10, wantErr: ErrEmptyMessage},
		{name: "whitespace", body: "  \t ", maxLen: 10, wantErr: ErrEmptyMessage},
		{name: "too long", body: "abcdef", maxLen: 5, wantErr: ErrMessageTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateBody(tt.body, tt.maxLen); err != tt.wantErr {
				t.Errorf("ValidateBody() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFormatTimestamp(t *testing.T) {
	loc := time.FixedZone("KST", 9*60*60)
	ts := time.Date(2025, 10, 27, 22, 2, 0, 123456789, loc)

	got := FormatTimestamp(ts)
	want := "2025-10-27T13:02:00.123Z"
	if got != want {
		t.Errorf("FormatTimestamp() = %q, want %q", got, want)
	}
}

func TestNewMessagePayload(t *testing.T) {
	msg := &Message{
		ID:        "01HXYZ",
		RoomName:  "room_alice",
		Sender:    "alice",
		Body:      "hello",
		Timestamp: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Read:      true,
	}

	data, err := json.Marshal(NewMessagePayload(msg))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	expected := map[string]interface{}{
		"sender":    "alice",
		"message":   "hello",
		"timestamp": "2025-01-02T03:04:05.000Z",
		"roomName":  "room_alice",
		"read":      true,
	}
	for key, want := range expected {
		if decoded[key] != want {
			t.Errorf("payload[%q] = %v, want %v", key, decoded[key], want)
		}
	}
	if _, exists := decoded["id"]; exists {
		t.Error("wire payload should not expose the storage id")
	}
}

func TestNewMessagePayloads_EmptyIsArray(t *testing.T) {
	data, err := json.Marshal(NewMessagePayloads(nil))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("empty history should encode as [], got %s", data)
	}
}

func TestLoginSuccess_CounselorRoomIsNull(t *testing.T) {
	data, err := json.Marshal(LoginSuccess{ID: "counselor123", Type: RoleCounselor})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	want := `{"id":"counselor123","type":"counselor","room":null}`
	if string(data) != want {
		t.Errorf("LoginSuccess = %s, want %s", data, want)
	}
}

func TestEnvelope_Decode(t *testing.T) {
	raw := `{"event":"login","data":{"userId":"","userType":"client"}}`

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Event != EventLogin {
		t.Errorf("Event = %q, want %q", env.Event, EventLogin)
	}

	var req LoginRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if req.UserType != "client" || req.UserID != "" {
		t.Errorf("unexpected login request: %+v", req)
	}
}
