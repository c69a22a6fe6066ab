// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package nowlink

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func randomMAC(rng *rand.Rand) MAC {
	var m MAC
	rng.Read(m[:])
	return m
}

func randomFrame(rng *rand.Rand) Frame {
	return Frame{Command: uint8(rng.Intn(256)), Sensor: uint16(rng.Intn(65536))}
}

// buildRandomCBORPayload creates a CBOR payload [msgType, random_map] for fuzz testing
func buildRandomCBORPayload(rng *rand.Rand, msgType uint8) []byte {
	numEntries := rng.Intn(5)
	payloadMap := make(map[int]interface{})
	for i := 0; i < numEntries; i++ {
		key := rng.Intn(4)
		switch rng.Intn(4) {
		case 0:
			payloadMap[key] = uint64(rng.Uint32())
		case 1:
			payloadMap[key] = -int64(rng.Intn(128))
		case 2:
			b := make([]byte, rng.Intn(8))
			rng.Read(b)
			payloadMap[key] = b
		case 3:
			payloadMap[key] = rng.Intn(2) == 1
		}
	}

	var msg interface{}
	if len(payloadMap) == 0 {
		msg = []interface{}{uint64(msgType), nil}
	} else {
		msg = []interface{}{uint64(msgType), payloadMap}
	}

	data, err := cbor.Marshal(msg)
	if err != nil {
		data, _ = cbor.Marshal([]interface{}{uint64(msgType), nil})
	}
	return data
}

// buildRawPacket frames a CBOR payload without going through the encoder
func buildRawPacket(peer MAC, cborPayload []byte) []byte {
	data := append([]byte{uint8(len(cborPayload))}, peer[:]...)
	data = append(data, cborPayload...)
	crc := CalculateCRC(data)
	data = append(data, byte(crc>>8), byte(crc))

	out := []byte{StartByte}
	out = append(out, stuffBytes(data)...)
	return append(out, EndByte)
}

// ============================================================
// Decoder Fuzz Tests
// ============================================================

// TestFuzzDecoder_RandomBytes feeds random noise; the decoder must never panic
func TestFuzzDecoder_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()

		length := rng.Intn(512) + 1
		data := make([]byte, length)
		rng.Read(data)

		for _, b := range data {
			d.DecodeByte(b)
		}
	}
}

// TestFuzzDecoder_RandomFrames round-trips random frames through the bridge envelope
func TestFuzzDecoder_RandomFrames(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		peer := randomMAC(rng)
		frame := randomFrame(rng)
		rssi := int8(-rng.Intn(100))

		var src *Packet
		if rng.Intn(2) == 0 {
			src = NewSendFrame(peer, frame)
		} else {
			src = NewRecvFrame(peer, frame, rssi)
		}

		packet, err := DecodePacket(MustEncodePacket(src))
		if err != nil {
			t.Errorf("Round %d: unexpected decode error: %v", i, err)
			continue
		}
		if packet.Peer() != peer {
			t.Errorf("Round %d: peer mismatch: expected %v, got %v", i, peer, packet.Peer())
		}
		if packet.Type() != src.Type() {
			t.Errorf("Round %d: type mismatch: expected 0x%02X, got 0x%02X", i, src.Type(), packet.Type())
		}
		got, err := packet.Frame()
		if err != nil {
			t.Errorf("Round %d: Frame() error: %v", i, err)
			continue
		}
		if got != frame {
			t.Errorf("Round %d: frame mismatch: expected %v, got %v", i, frame, got)
		}
	}
}

// TestFuzzDecoder_RandomPayloads decodes random CBOR bodies with valid framing
func TestFuzzDecoder_RandomPayloads(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		peer := randomMAC(rng)
		msgType := uint8(rng.Intn(256))
		cborPayload := buildRandomCBORPayload(rng, msgType)

		packet, err := DecodePacket(buildRawPacket(peer, cborPayload))
		if err != nil {
			t.Errorf("Round %d: unexpected decode error: %v", i, err)
			continue
		}
		if packet.Length() != uint8(len(cborPayload)) {
			t.Errorf("Round %d: length mismatch: expected %d, got %d", i, len(cborPayload), packet.Length())
		}
		if packet.Type() != msgType {
			t.Errorf("Round %d: type mismatch: expected 0x%02X, got 0x%02X", i, msgType, packet.Type())
		}
	}
}

// TestFuzzDecoder_CorruptedPackets flips a random body byte; the decoder must not panic
// and must never hand back a packet whose CRC does not match.
func TestFuzzDecoder_CorruptedPackets(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()
		wire := MustEncodePacket(NewSendFrame(randomMAC(rng), randomFrame(rng)))

		idx := rng.Intn(len(wire)-2) + 1
		wire[idx] ^= byte(rng.Intn(255) + 1)

		for _, b := range wire {
			p, err := d.DecodeByte(b)
			if err == nil && p != nil && p.ParseError() == nil {
				if _, ferr := p.Frame(); ferr != nil && p.Type() == MsgSendFrame {
					t.Errorf("Round %d: decoded SEND_FRAME with unreadable frame: %v", i, ferr)
				}
			}
		}
	}
}

// TestFuzzDecoder_Stream feeds several packets back to back with noise between them
func TestFuzzDecoder_Stream(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()
		want := rng.Intn(4) + 1
		var stream []byte
		for j := 0; j < want; j++ {
			noise := make([]byte, rng.Intn(4))
			for k := range noise {
				// Noise outside a packet must not contain framing bytes
				noise[k] = byte(rng.Intn(0x70))
			}
			stream = append(stream, noise...)
			stream = append(stream, MustEncodePacket(NewSendStatus(randomMAC(rng), SendStatus(rng.Intn(2))))...)
		}

		got := 0
		for _, b := range stream {
			p, err := d.DecodeByte(b)
			if err != nil {
				t.Errorf("Round %d: unexpected error: %v", i, err)
			}
			if p != nil {
				got++
			}
		}
		if got != want {
			t.Errorf("Round %d: decoded %d packets, want %d", i, got, want)
		}
	}
}

// ============================================================
// Validation / Formatter Fuzz Tests
// ============================================================

func TestFuzzValidation_RandomFrames(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		f := randomFrame(rng)
		errs := ValidatePacket(NewSendFrame(randomMAC(rng), f))

		wantErrs := 0
		if !IsCommand(f.Command) {
			wantErrs++
		}
		if f.Sensor > MaxSensor {
			wantErrs++
		}
		if len(errs) != wantErrs {
			t.Errorf("Round %d: %v produced %d errors, want %d", i, f, len(errs), wantErrs)
		}
	}
}

func TestFuzzFormatter_RandomPackets(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	types := []uint8{MsgSendFrame, MsgAddPeer, MsgPingRequest, MsgRecvFrame, MsgSendStatus, MsgPingResponse, MsgErrorInvalidCmd, 0x99}
	for i := 0; i < rounds; i++ {
		msgType := types[rng.Intn(len(types))]
		packet, err := DecodePacket(buildRawPacket(randomMAC(rng), buildRandomCBORPayload(rng, msgType)))
		if err != nil {
			t.Errorf("Round %d: unexpected decode error: %v", i, err)
			continue
		}
		// Must not panic regardless of payload shape
		if FormatPacket(packet) == "" {
			t.Errorf("Round %d: empty formatter output", i)
		}
		ValidatePacket(packet)
	}
}

// FuzzDecodeByte feeds arbitrary bytes to the streaming decoder. Every packet
// it hands back must pass the CRC and its typed accessors must not panic.
func FuzzDecodeByte(f *testing.F) {
	f.Add(MustEncodePacket(NewSendFrame(testPeer, Frame{Command: CmdGoTo, Sensor: 1400})))
	f.Add(MustEncodePacket(NewRecvFrame(testPeer, Frame{Command: CmdStatus, Sensor: 0x7E7D & MaxSensor}, -60)))
	f.Add(MustEncodePacket(NewPingResponse(testPeer, 123456)))
	f.Add([]byte{StartByte, EscByte, EndByte, StartByte})

	f.Fuzz(func(t *testing.T, data []byte) {
		d := NewDecoder()
		for _, b := range data {
			p, err := d.DecodeByte(b)
			if err != nil || p == nil {
				continue
			}
			body := make([]byte, 0, 1+MACSize+len(p.Payload()))
			body = append(body, p.Length())
			peer := p.Peer()
			body = append(body, peer[:]...)
			body = append(body, p.Payload()...)
			if CalculateCRC(body) != p.CRC() {
				t.Fatalf("decoded packet with CRC 0x%04X, computed 0x%04X", p.CRC(), CalculateCRC(body))
			}
			_, _ = p.Frame()
			_, _ = p.RSSI()
			_, _ = p.SendStatus()
			_, _ = p.Uptime()
			_ = ValidatePacket(p)
		}
	})
}
