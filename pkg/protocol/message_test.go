package protocol

import (
	"errors"
	"testing"
)

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    Envelope
		wantErr bool
	}{
		{
			name: "assistant response",
			data: `{"type":"assistant_response","text":"12 pages"}`,
			want: Envelope{Type: TypeAssistantResponse, Text: "12 pages"},
		},
		{
			name: "error",
			data: `{"type":"error","text":"backend unavailable"}`,
			want: Envelope{Type: TypeError, Text: "backend unavailable"},
		},
		{
			name:    "missing type",
			data:    `{"text":"orphan"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			data:    `hello`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEnvelope([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEnvelope() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseEnvelope() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestUserMessageWireFormat(t *testing.T) {
	b, err := NewUserMessage("how many pages").Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"type":"user_message","text":"how many pages"}` {
		t.Errorf("wire format = %s", b)
	}
}

func TestRoomMessage(t *testing.T) {
	t.Run("user text message", func(t *testing.T) {
		b, err := NewUserTextMessage("hi").Bytes()
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != `{"type":"text_message","text":"hi","speaker":"user"}` {
			t.Errorf("wire format = %s", b)
		}
	})

	t.Run("assistant kinds", func(t *testing.T) {
		for _, typ := range []MessageType{TypeAssistantResponse, TypeTextMessage} {
			if !(RoomMessage{Type: typ}).IsAssistantText() {
				t.Errorf("%s should count as assistant text", typ)
			}
		}
		if (RoomMessage{Type: TypeTranscript}).IsAssistantText() {
			t.Error("transcript is not assistant text")
		}
	})

	t.Run("empty type", func(t *testing.T) {
		_, err := ParseRoomMessage([]byte(`{"text":"x"}`))
		if !errors.Is(err, ErrEmptyType) {
			t.Errorf("expected ErrEmptyType, got %v", err)
		}
	})
}

func TestNormalizeSpeaker(t *testing.T) {
	tests := map[string]string{
		"user":      SpeakerUser,
		" User ":    SpeakerUser,
		"assistant": SpeakerAssistant,
		"agent":     SpeakerAssistant,
		"":          SpeakerAssistant,
	}
	for in, want := range tests {
		if got := NormalizeSpeaker(in); got != want {
			t.Errorf("NormalizeSpeaker(%q) = %q, want %q", in, got, want)
		}
	}
}
