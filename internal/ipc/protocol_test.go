package ipc

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		req  Request
	}{
		{"ping", Request{Cmd: CmdPing}},
		{"process_text", Request{Cmd: CmdProcessText, Data: json.RawMessage(`{"text":"hola mundo"}`)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteFrame(&buf, tc.req); err != nil {
				t.Fatalf("WriteFrame: %v", err)
			}

			got, err := ReadRequest(&buf)
			if err != nil {
				t.Fatalf("ReadRequest: %v", err)
			}
			if got.Cmd != tc.req.Cmd {
				t.Errorf("Cmd = %q, want %q", got.Cmd, tc.req.Cmd)
			}
			if !bytes.Equal(got.Data, tc.req.Data) {
				t.Errorf("Data = %s, want %s", got.Data, tc.req.Data)
			}
		})
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})

	var req Request
	if err := ReadFrame(&buf, &req); err != ErrFrameTooLarge {
		t.Fatalf("ReadFrame error = %v, want ErrFrameTooLarge", err)
	}
}

func TestResponseHelpers(t *testing.T) {
	ok := OK(map[string]string{"state": "recording"})
	if ok.Status != StatusOK {
		t.Errorf("OK().Status = %q, want %q", ok.Status, StatusOK)
	}

	errResp := Err(errSentinel{})
	if errResp.Status != StatusError || errResp.Error == "" {
		t.Errorf("Err() = %+v, want non-empty error status", errResp)
	}

	ev := Event(map[string]string{"type": "partial", "text": "hola"})
	if ev.Status != StatusEvent {
		t.Errorf("Event().Status = %q, want %q", ev.Status, StatusEvent)
	}
}

type errSentinel struct{}

func (errSentinel) Error() string { return "sentinel error" }
