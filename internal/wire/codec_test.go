package wire

import (
	"bytes"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		kind Kind
		enc  func() ([]byte, error)
		dec  func([]byte) error
	}{
		{"register", KindRegister, func() ([]byte, error) { return Register{Username: "alice"}.Encode() }, func(p []byte) error {
			m, err := DecodeRegister(p)
			if err == nil && m.Username != "alice" {
				t.Fatalf("got %q", m.Username)
			}
			return err
		}},
		{"login_success", KindLoginSuccess, func() ([]byte, error) { return LoginSuccess{Username: "bob", Elo: 1200}.Encode() }, func(p []byte) error {
			m, err := DecodeLoginSuccess(p)
			if err == nil && (m.Username != "bob" || m.Elo != 1200) {
				t.Fatalf("got %+v", m)
			}
			return err
		}},
		{"game_status_update", KindGameStatusUpdate, func() ([]byte, error) {
			return GameStatusUpdate{GameID: "g1", FEN: "startpos", CurrentTurn: "bob", IsOver: false, Note: "Check!"}.Encode()
		}, func(p []byte) error {
			m, err := DecodeGameStatusUpdate(p)
			if err == nil && (m.GameID != "g1" || m.FEN != "startpos" || m.CurrentTurn != "bob" || m.IsOver || m.Note != "Check!") {
				t.Fatalf("got %+v", m)
			}
			return err
		}},
		{"challenge_request", KindChallengeRequest, func() ([]byte, error) {
			return ChallengeRequest{FromUsername: "alice", ToUsername: "bob"}.Encode()
		}, func(p []byte) error {
			m, err := DecodeChallengeRequest(p)
			if err == nil && (m.FromUsername != "alice" || m.ToUsername != "bob") {
				t.Fatalf("got %+v", m)
			}
			return err
		}},
		{"challenge_response", KindChallengeResponse, func() ([]byte, error) {
			return ChallengeResponse{FromUsername: "alice", Accept: true}.Encode()
		}, func(p []byte) error {
			m, err := DecodeChallengeResponse(p)
			if err == nil && (m.FromUsername != "alice" || !m.Accept) {
				t.Fatalf("got %+v", m)
			}
			return err
		}},
		{"player_list_request", KindPlayerListRequest, func() ([]byte, error) {
			return PlayerListRequest{}.Encode()
		}, func(p []byte) error {
			_, err := DecodePlayerListRequest(p)
			return err
		}},
		{"player_list_response", KindPlayerListResponse, func() ([]byte, error) {
			return PlayerListResponse{Entries: []PlayerListEntry{
				{Username: "alice", Elo: 1200, InGame: true},
				{Username: "bob", Elo: 1300, InGame: false},
			}}.Encode()
		}, func(p []byte) error {
			m, err := DecodePlayerListResponse(p)
			if err == nil {
				if len(m.Entries) != 2 || m.Entries[0].Username != "alice" || m.Entries[0].Elo != 1200 || !m.Entries[0].InGame {
					t.Fatalf("got %+v", m)
				}
			}
			return err
		}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			payload, err := c.enc()
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			framed, err := Encode(c.kind, payload)
			if err != nil {
				t.Fatalf("frame: %v", err)
			}

			d := NewDecoder()
			d.Feed(framed)
			pkt, ok, err := d.Next()
			if err != nil {
				t.Fatalf("decode frame: %v", err)
			}
			if !ok {
				t.Fatal("expected a complete packet")
			}
			if pkt.Kind != c.kind {
				t.Fatalf("kind mismatch: got %v want %v", pkt.Kind, c.kind)
			}
			if !bytes.Equal(pkt.Payload, payload) {
				t.Fatalf("payload mismatch: got %v want %v", pkt.Payload, payload)
			}
			if err := c.dec(pkt.Payload); err != nil {
				t.Fatalf("decode payload: %v", err)
			}
		})
	}
}

// TestStreamReframing checks that packets fed in 3-byte chunks, which
// do not line up with packet boundaries, reassemble into the original
// sequence.
func TestStreamReframing(t *testing.T) {
	var want []Packet
	var stream []byte
	for i := 0; i < 5; i++ {
		payload, err := Move{GameID: "g1", UCI: "e2e4"}.Encode()
		if err != nil {
			t.Fatal(err)
		}
		framed, err := Encode(KindMove, payload)
		if err != nil {
			t.Fatal(err)
		}
		want = append(want, Packet{Kind: KindMove, Payload: payload})
		stream = append(stream, framed...)
	}

	// Feed the whole stream in small, uneven chunks.
	d := NewDecoder()
	var got []Packet
	const chunkSize = 3
	for i := 0; i < len(stream); i += chunkSize {
		end := min(i+chunkSize, len(stream))
		d.Feed(stream[i:end])
		for {
			pkt, ok, err := d.Next()
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !ok {
				break
			}
			got = append(got, pkt)
		}
	}

	if len(got) != len(want) {
		t.Fatalf("got %d packets, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Kind != want[i].Kind || !bytes.Equal(got[i].Payload, want[i].Payload) {
			t.Fatalf("packet %d mismatch: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestEncodeRejectsOversizedString(t *testing.T) {
	_, err := Register{Username: strings.Repeat("a", 256)}.Encode()
	if err != ErrPayloadTooLarge {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestDecodeMalformedPacket(t *testing.T) {
	// Declares a 5-byte username but supplies none.
	_, err := DecodeRegister([]byte{5})
	if err != ErrMalformedPacket {
		t.Fatalf("expected ErrMalformedPacket, got %v", err)
	}
}

func TestDecoderUnknownKindDropped(t *testing.T) {
	framed, err := Encode(Kind(0xfe), []byte("whatever"))
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	good, err := Encode(KindLogin, []byte{0})
	if err != nil {
		t.Fatalf("frame: %v", err)
	}

	d := NewDecoder()
	d.Feed(framed)
	_, ok, err := d.Next()
	if err != ErrUnknownKind {
		t.Fatalf("expected ErrUnknownKind, got ok=%v err=%v", ok, err)
	}
	if !ok {
		t.Fatal("expected the unknown-kind frame to still be consumed")
	}

	// The stream must not have desynced: the next well-formed frame
	// still decodes cleanly.
	d.Feed(good)
	pkt, ok, err := d.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || pkt.Kind != KindLogin {
		t.Fatalf("expected KindLogin, got %+v ok=%v", pkt, ok)
	}
}

func TestDecoderPartialPacketBuffered(t *testing.T) {
	payload, _ := Login{Username: "carol"}.Encode()
	framed, _ := Encode(KindLogin, payload)

	d := NewDecoder()
	d.Feed(framed[:len(framed)-1])
	_, ok, err := d.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected no complete packet yet")
	}

	d.Feed(framed[len(framed)-1:])
	pkt, ok, err := d.Next()
	if err != nil || !ok {
		t.Fatalf("expected completed packet, ok=%v err=%v", ok, err)
	}
	if pkt.Kind != KindLogin {
		t.Fatalf("kind mismatch: %v", pkt.Kind)
	}
}
