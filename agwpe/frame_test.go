package agwpe

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	f := Frame{
		Port:     2,
		Kind:     KindData,
		PID:      0xF0,
		CallFrom: "N0CALL-5",
		CallTo:   "CQ",
		User:     7,
		Payload:  []byte("hello"),
	}

	raw, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(raw) != HeaderLen+len(f.Payload) {
		t.Fatalf("encoded length = %d, want %d", len(raw), HeaderLen+len(f.Payload))
	}

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Port != f.Port || got.Kind != f.Kind || got.PID != f.PID {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.CallFrom != f.CallFrom || got.CallTo != f.CallTo {
		t.Errorf("call signs mismatch: from=%q to=%q", got.CallFrom, got.CallTo)
	}
	if got.User != f.User {
		t.Errorf("User = %d, want %d", got.User, f.User)
	}
	if !bytes.Equal(got.Payload, f.Payload) {
		t.Errorf("Payload = %q, want %q", got.Payload, f.Payload)
	}
}

func TestFrameEmptyPayload(t *testing.T) {
	f := Frame{Port: 0, Kind: KindRegisterCall, CallFrom: "N0CALL"}

	raw, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(raw) != HeaderLen {
		t.Fatalf("encoded length = %d, want %d", len(raw), HeaderLen)
	}

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Payload != nil {
		t.Errorf("Payload = %v, want nil", got.Payload)
	}
}

func TestDecodeRejectsShortHeader(t *testing.T) {
	if _, err := Decode(make([]byte, HeaderLen-1)); err == nil {
		t.Error("expected error decoding a buffer shorter than the header")
	}
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	f := Frame{Port: 0, Kind: KindData, Payload: []byte("abc")}
	raw, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if _, err := Decode(raw[:len(raw)-1]); err == nil {
		t.Error("expected error decoding a frame truncated mid-payload")
	}
}

func TestEncodeRejectsLongCallSign(t *testing.T) {
	f := Frame{CallFrom: "WAYTOOLONGCALL"}
	if _, err := f.Encode(); err == nil {
		t.Error("expected error encoding an over-long call sign")
	}
}

func TestPayloadLength(t *testing.T) {
	f := Frame{Payload: []byte("0123456789")}
	raw, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	n, err := PayloadLength(raw[:HeaderLen])
	if err != nil {
		t.Fatalf("PayloadLength: %v", err)
	}
	if n != uint32(len(f.Payload)) {
		t.Errorf("PayloadLength = %d, want %d", n, len(f.Payload))
	}
}

func TestDataKindIsDataBearing(t *testing.T) {
	bearing := []DataKind{KindData, KindFrameKISS, KindUnprotoUI, KindDataVia}
	for _, k := range bearing {
		if !k.IsDataBearing() {
			t.Errorf("%v.IsDataBearing() = false, want true", k)
		}
	}

	nonBearing := []DataKind{KindPortInfo, KindConnect, KindDisconnect, KindInFlight}
	for _, k := range nonBearing {
		if k.IsDataBearing() {
			t.Errorf("%v.IsDataBearing() = true, want false", k)
		}
	}
}
