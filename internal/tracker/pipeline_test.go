package tracker

import (
	"errors"
	"testing"

	"github.com/linjuya-lu/device-tracker-go/internal/emulation"
	"github.com/linjuya-lu/device-tracker-go/internal/interpreter"
)

func TestForwardSampleSendsAccelerationWhenRotationFails(t *testing.T) {
	sendErr := errors.New("socket closed")
	tr := &fakeTransport{rotationErr: sendErr}
	s := &Session{Name: "T1", Transport: tr}

	ev, err := forwardSample(s, interpreter.Rotation{W: 1}, interpreter.Gravity{Z: 9.8})
	if !errors.Is(err, sendErr) {
		t.Fatalf("err = %v", err)
	}
	if len(tr.rotations) != 1 || len(tr.accels) != 1 {
		t.Fatalf("rotations=%d accels=%d", len(tr.rotations), len(tr.accels))
	}
	if tr.accels[0] != emulation.NewVector(0, 0, 9.8) {
		t.Fatalf("acceleration = %+v", tr.accels[0])
	}
	if ev.Tracker != "T1" || ev.Gravity.Z != 9.8 {
		t.Fatalf("display event = %+v", ev)
	}
}

func TestForwardSampleRotationOrder(t *testing.T) {
	tr := &fakeTransport{}
	s := &Session{Name: "T1", Transport: tr}

	if _, err := forwardSample(s, interpreter.Rotation{X: 0.1, Y: 0.2, Z: 0.3, W: 0.9}, interpreter.Gravity{}); err != nil {
		t.Fatal(err)
	}
	if got := tr.rotations[0]; got != emulation.NewQuaternion(0.9, 0.1, 0.2, 0.3) {
		t.Fatalf("quaternion = %+v", got)
	}
}
