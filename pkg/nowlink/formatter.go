// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package nowlink

import (
	"fmt"
	"strings"
	"time"
)

// FormatPacket formats a packet into a human-readable string
func FormatPacket(p *Packet) string {
	timestamp := p.timestamp.Format("15:04:05.000")
	msgType := FormatMessageType(p.Type())

	result := fmt.Sprintf("[%s] %s (0x%02X) peer=%s len=%d\n", timestamp, msgType, p.Type(), p.peer, p.length)

	payloadMap := p.PayloadMap()
	if payloadMap != nil || p.Type() == MsgPingRequest {
		result += FormatPayloadMap(p.Type(), payloadMap)
	}

	return result
}

// FormatMessageType returns the human-readable name for a message type
func FormatMessageType(msgType uint8) string {
	switch msgType {
	case MsgSendFrame:
		return "SEND_FRAME"
	case MsgAddPeer:
		return "ADD_PEER"
	case MsgPingRequest:
		return "PING_REQUEST"
	case MsgRecvFrame:
		return "RECV_FRAME"
	case MsgSendStatus:
		return "SEND_STATUS"
	case MsgPingResponse:
		return "PING_RESPONSE"
	case MsgErrorInvalidCmd:
		return "ERROR_INVALID_CMD"
	default:
		return "UNKNOWN"
	}
}

// FormatPayloadMap formats the CBOR payload map based on message type
func FormatPayloadMap(msgType uint8, m map[int]interface{}) string {
	switch msgType {
	case MsgPingRequest:
		return "  (no payload)\n"

	case MsgPingResponse:
		uptime, _ := GetMapUint(m, KeyUptime)
		return fmt.Sprintf("  Uptime: %s\n", formatDuration(uptime))

	case MsgSendFrame:
		return "  " + formatFrameField(m) + "\n"

	case MsgRecvFrame:
		rssi, hasRSSI := GetMapInt(m, KeyRSSI)
		result := "  " + formatFrameField(m)
		if hasRSSI {
			result += fmt.Sprintf(", RSSI: %d dBm", rssi)
		}
		return result + "\n"

	case MsgSendStatus:
		status, _ := GetMapUint(m, KeyStatus)
		return fmt.Sprintf("  Status: %s (%d)\n", formatSendStatus(SendStatus(status)), status)

	case MsgAddPeer:
		channel, _ := GetMapUint(m, KeyChannel)
		if channel == 0 {
			return "  Channel: current\n"
		}
		return fmt.Sprintf("  Channel: %d\n", channel)

	case MsgErrorInvalidCmd:
		cmd, _ := GetMapUint(m, KeyCommand)
		return fmt.Sprintf("  Rejected message: %s (0x%02X)\n", FormatMessageType(uint8(cmd)), cmd)

	default:
		return formatRawMap(m)
	}
}

func formatFrameField(m map[int]interface{}) string {
	raw, ok := GetMapBytes(m, KeyFrame)
	if !ok {
		return "Frame: (missing)"
	}
	f, err := ParseFrame(raw)
	if err != nil {
		return fmt.Sprintf("Frame: % X (%v)", raw, err)
	}
	return fmt.Sprintf("Frame: %s (%d), Sensor: %d", CommandName(f.Command), f.Command, f.Sensor)
}

func formatSendStatus(s SendStatus) string {
	switch s {
	case SendSuccess:
		return "SUCCESS"
	case SendFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

func formatRawMap(m map[int]interface{}) string {
	if len(m) == 0 {
		return "  (no payload)\n"
	}
	var sb strings.Builder
	for k := 0; k < 16; k++ {
		if v, ok := m[k]; ok {
			fmt.Fprintf(&sb, "  [%d] %v\n", k, v)
		}
	}
	return sb.String()
}

func formatDuration(ms uint64) string {
	d := time.Duration(ms) * time.Millisecond
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	millis := int(ms % 1000)

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%d.%03ds", seconds, millis)
}
