package config

import (
	"os"
	"path/filepath"
	"testing"
)

const testProfile = `
name: "Tracker-Device"
deviceResources:
  - name: "ServerConnected"
    properties:
      valueType: "Bool"
      readWrite: "R"
      defaultValue: "false"
  - name: "BatteryRemaining"
    properties:
      valueType: "Float64"
      readWrite: "R"
      defaultValue: "0"
  - name: "ConnectionStatus"
    properties:
      valueType: "String"
      readWrite: "R"
`

func TestLoadProfileDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.yaml")
	if err := os.WriteFile(path, []byte(testProfile), 0o644); err != nil {
		t.Fatal(err)
	}
	prof, err := LoadProfile(path)
	if err != nil {
		t.Fatal(err)
	}
	if prof.Name != "Tracker-Device" || len(prof.DeviceResources) != 3 {
		t.Fatalf("profile = %+v", prof)
	}
	defaults := prof.DefaultValues()
	if defaults["ServerConnected"] != false {
		t.Fatalf("ServerConnected = %#v", defaults["ServerConnected"])
	}
	if defaults["BatteryRemaining"] != float64(0) {
		t.Fatalf("BatteryRemaining = %#v", defaults["BatteryRemaining"])
	}
	if defaults["ConnectionStatus"] != "" {
		t.Fatalf("ConnectionStatus = %#v", defaults["ConnectionStatus"])
	}
	if _, ok := prof.Resource("Missing"); ok {
		t.Fatal("found a resource that does not exist")
	}
}
