package svcinstall

import "testing"

func TestUnitNameIsRoleScoped(t *testing.T) {
	hub := Spec{Role: "hub"}
	agent := Spec{Role: "agent"}
	if hub.unitName() == agent.unitName() {
		t.Fatalf("expected distinct unit names per role, both got %q", hub.unitName())
	}
	if hub.unitName() != "cnm-relay-hub.service" {
		t.Fatalf("unexpected unit name: %q", hub.unitName())
	}
}

func TestPlistLabelIsRoleScoped(t *testing.T) {
	hub := Spec{Role: "hub"}
	if hub.plistLabel() != "com.cnm.relay.hub" {
		t.Fatalf("unexpected plist label: %q", hub.plistLabel())
	}
}

func TestUnitPathAndPlistPathDeriveFromNames(t *testing.T) {
	hub := Spec{Role: "hub"}
	if hub.unitPath() != "/etc/systemd/system/cnm-relay-hub.service" {
		t.Fatalf("unexpected unit path: %q", hub.unitPath())
	}
	if hub.plistPath() != "/Library/LaunchDaemons/com.cnm.relay.hub.plist" {
		t.Fatalf("unexpected plist path: %q", hub.plistPath())
	}
}

func TestLaunchdArgsRendersOneStringPerArg(t *testing.T) {
	got := launchdArgs([]string{"--config", "/etc/cnm/relay.yml"})
	want := "    <string>--config</string>\n    <string>/etc/cnm/relay.yml</string>"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLaunchdArgsEmptyForNoArgs(t *testing.T) {
	if got := launchdArgs(nil); got != "" {
		t.Fatalf("expected empty string for no args, got %q", got)
	}
}
