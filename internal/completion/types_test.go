package completion

import (
	"errors"
	"testing"
)

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{name: "prompt", req: Request{Prompt: "Hallo"}},
		{name: "messages", req: Request{Messages: []Message{{Role: "user", Content: "Hallo"}}}},
		{name: "empty", req: Request{}, wantErr: true},
		{name: "blank prompt", req: Request{Prompt: "   "}, wantErr: true},
		{name: "both forms", req: Request{Prompt: "a", Messages: []Message{{Role: "user", Content: "b"}}}, wantErr: true},
		{name: "bad role", req: Request{Messages: []Message{{Role: "tool", Content: "x"}}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error %v, got %v", tt.wantErr, err)
			}
		})
	}

	if err := (Request{}).Validate(); !errors.Is(err, ErrEmptyRequest) {
		t.Errorf("Expected ErrEmptyRequest, got %v", err)
	}
}

func TestRequest_Conversation(t *testing.T) {
	msgs := Request{Prompt: "Translate this"}.Conversation()
	if len(msgs) != 1 || msgs[0].Role != "user" || msgs[0].Content != "Translate this" {
		t.Errorf("Expected prompt as single user message, got %+v", msgs)
	}

	in := []Message{{Role: "system", Content: "a"}, {Role: "user", Content: "b"}}
	msgs = Request{Messages: in}.Conversation()
	if len(msgs) != 2 || msgs[1].Content != "b" {
		t.Errorf("Expected messages unchanged, got %+v", msgs)
	}
}
