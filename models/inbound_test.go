package models

import "testing"

func TestDecodeAdminMessage(t *testing.T) {
	data := []byte(`{"type":"INIT","requestId":"req-1","administratorId":"admin-1","totalRound":3}`)

	kind, msg, err := DecodeAdminMessage(data)
	if err != nil {
		t.Fatalf("DecodeAdminMessage failed: %v", err)
	}
	if kind != Init {
		t.Fatalf("Expected INIT, got %s", kind)
	}

	initMsg, ok := msg.(*InitMessage)
	if !ok {
		t.Fatalf("Expected *InitMessage, got %T", msg)
	}
	if initMsg.TotalRound != 3 || initMsg.AdministratorID != "admin-1" {
		t.Errorf("Unexpected decode result: %+v", initMsg)
	}
	if initMsg.GetRequestID() != "req-1" {
		t.Errorf("Unexpected request id %q", initMsg.GetRequestID())
	}
}

func TestDecodeAdminMessageRejectsUserType(t *testing.T) {
	if _, _, err := DecodeAdminMessage([]byte(`{"type":"SUBMIT"}`)); err == nil {
		t.Fatal("Admin decoder must reject user message types")
	}
}

func TestDecodeUserMessage(t *testing.T) {
	data := []byte(`{"type":"SUBMIT","requestId":"req-2","userId":"u1","score":42,"gameType":"Clicker"}`)

	kind, msg, err := DecodeUserMessage(data)
	if err != nil {
		t.Fatalf("DecodeUserMessage failed: %v", err)
	}
	if kind != Submit {
		t.Fatalf("Expected SUBMIT, got %s", kind)
	}

	submit := msg.(*SubmitMessage)
	if submit.Score != 42 || submit.GameType != GameClicker {
		t.Errorf("Unexpected decode result: %+v", submit)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	if _, _, err := DecodeUserMessage([]byte(`{"type":"NONSENSE"}`)); err == nil {
		t.Fatal("Expected error for unknown type")
	}
	if _, _, err := DecodeUserMessage([]byte(`not json`)); err == nil {
		t.Fatal("Expected error for malformed frame")
	}
}
