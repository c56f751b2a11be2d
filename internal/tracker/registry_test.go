package tracker

import (
	"math"
	"testing"

	"github.com/linjuya-lu/device-tracker-go/internal/interpreter"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	if _, known := r.Get("T1"); known {
		t.Fatal("empty registry knows T1")
	}

	t1 := &fakeTransport{}
	r.Insert(&Session{Name: "T1", Transport: t1})
	r.Insert(&Session{Name: "A0", Transport: &fakeTransport{}})
	if r.Active("T1") == nil {
		t.Fatal("T1 not active after insert")
	}

	s := r.MarkDisconnected("T1")
	if s == nil || s.State != StateDisconnected {
		t.Fatalf("MarkDisconnected returned %+v", s)
	}
	if got, known := r.Get("T1"); !known || got != nil {
		t.Fatalf("disconnected entry: %v %v", got, known)
	}
	if names := r.ActiveNames(); len(names) != 1 || names[0] != "A0" {
		t.Fatalf("ActiveNames = %v", names)
	}

	snap := r.SortedSnapshot()
	if len(snap) != 2 || snap[0].Name != "A0" || snap[1].Name != "T1" || snap[1].Session != nil {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	if err := r.ClearAll(); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 0 {
		t.Fatalf("registry not cleared, len=%d", r.Len())
	}
	if t1.deinit {
		t.Fatal("disconnected session deinitialized twice")
	}
}

func TestToEuler(t *testing.T) {
	cases := []struct {
		name string
		q    interpreter.Rotation
		want Euler
	}{
		{"identity", interpreter.Rotation{W: 1}, Euler{}},
		{"x90", interpreter.Rotation{X: math.Sqrt2 / 2, W: math.Sqrt2 / 2}, Euler{X: 90}},
		{"z90", interpreter.Rotation{Z: math.Sqrt2 / 2, W: math.Sqrt2 / 2}, Euler{Z: 90}},
		{"y90", interpreter.Rotation{Y: math.Sqrt2 / 2, W: math.Sqrt2 / 2}, Euler{Y: 90}},
		{"unnormalized", interpreter.Rotation{W: 2}, Euler{}},
		// Rx·Ry·Rz 依次内旋
		{"xyz mixed", mulQuat(mulQuat(axisAngle(1, 0, 0, 30), axisAngle(0, 1, 0, 40)), axisAngle(0, 0, 1, 50)), Euler{X: 30, Y: 40, Z: 50}},
		{"zyx product", mulQuat(mulQuat(axisAngle(0, 0, 1, 50), axisAngle(0, 1, 0, 40)), axisAngle(1, 0, 0, 30)),
			Euler{X: -8.997136625188746, Y: 47.803280676855046, Z: 42.85351376708531}},
		// 万向节锁时 Z 归零，X 吸收两者之和
		{"gimbal lock", mulQuat(mulQuat(axisAngle(1, 0, 0, 20), axisAngle(0, 1, 0, 90)), axisAngle(0, 0, 1, 15)), Euler{X: 35, Y: 90}},
		{"gimbal lock negative", mulQuat(axisAngle(1, 0, 0, 20), axisAngle(0, 1, 0, -90)), Euler{X: 20, Y: -90}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ToEuler(c.q)
			if !near(got.X, c.want.X) || !near(got.Y, c.want.Y) || !near(got.Z, c.want.Z) {
				t.Fatalf("ToEuler = %+v, want %+v", got, c.want)
			}
		})
	}
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func axisAngle(ax, ay, az, deg float64) interpreter.Rotation {
	half := deg / radToDeg / 2
	sin := math.Sin(half)
	return interpreter.Rotation{X: ax * sin, Y: ay * sin, Z: az * sin, W: math.Cos(half)}
}

func mulQuat(a, b interpreter.Rotation) interpreter.Rotation {
	return interpreter.Rotation{
		X: a.W*b.X + a.X*b.W + a.Y*b.Z - a.Z*b.Y,
		Y: a.W*b.Y - a.X*b.Z + a.Y*b.W + a.Z*b.X,
		Z: a.W*b.Z + a.X*b.Y - a.Y*b.X + a.Z*b.W,
		W: a.W*b.W - a.X*b.X - a.Y*b.Y - a.Z*b.Z,
	}
}
