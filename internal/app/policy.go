package app

import (
	"errors"
	"fmt"

	"github.com/dkeye/Chorus/internal/core"
)

type BackpressureAction int

const (
	// NoAction means the frame was delivered.
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

type Policy interface {
	OnBackPressure(cid core.ConnID, err error) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(_ core.ConnID, err error) BackpressureAction {
	if errors.Is(err, core.ErrConnClosed) {
		return DropFrame
	}
	return KickMember
}

// VoiceSwitch decides what happens to voice presence when a connection that
// is in voice joins another room.
type VoiceSwitch string

const (
	// VoiceStay keeps the presence bound to the room it was created in.
	VoiceStay VoiceSwitch = "stay"
	// VoiceLeave leaves voice before the room switch.
	VoiceLeave VoiceSwitch = "leave"
	// VoiceReject refuses the room switch with a join-error.
	VoiceReject VoiceSwitch = "reject"
)

func ParseVoiceSwitch(s string) (VoiceSwitch, error) {
	switch v := VoiceSwitch(s); v {
	case VoiceStay, VoiceLeave, VoiceReject:
		return v, nil
	case "":
		return VoiceStay, nil
	default:
		return "", fmt.Errorf("unknown voice switch policy %q", s)
	}
}
