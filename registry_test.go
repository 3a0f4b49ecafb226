package daemonocle

import (
	"errors"
	"testing"
)

func TestActionsListsBuiltinsFirst(t *testing.T) {
	d, _, _, _ := newTestDaemon(t)
	if err := d.RegisterAction("flush", func() error { return nil }); err != nil {
		t.Fatalf("RegisterAction: %v", err)
	}
	if err := d.RegisterAction("rotate", func() error { return nil }); err != nil {
		t.Fatalf("RegisterAction: %v", err)
	}

	want := []string{"start", "stop", "restart", "status", "flush", "rotate"}
	got := d.Actions()
	if len(got) != len(want) {
		t.Fatalf("Actions() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Actions() = %v, want %v", got, want)
		}
	}
}

func TestRegisterActionRejectsDuplicates(t *testing.T) {
	d, _, _, _ := newTestDaemon(t)
	if err := d.RegisterAction("start", func() error { return nil }); err == nil {
		t.Error("expected an error for a builtin name")
	}
	if err := d.RegisterAction("flush", func() error { return nil }); err != nil {
		t.Fatalf("RegisterAction: %v", err)
	}
	if err := d.RegisterAction("flush", func() error { return nil }); err == nil {
		t.Error("expected an error for a duplicate name")
	}
}

func TestRegisterActionRejectsBadInput(t *testing.T) {
	d, _, _, _ := newTestDaemon(t)
	if err := d.RegisterAction("", func() error { return nil }); err == nil {
		t.Error("expected an error for an empty name")
	}
	if err := d.RegisterAction("flush", nil); err == nil {
		t.Error("expected an error for a nil function")
	}
}

func TestDoActionRunsCustomAction(t *testing.T) {
	d, _, _, _ := newTestDaemon(t)
	ran := false
	if err := d.RegisterAction("flush", func() error { ran = true; return nil }); err != nil {
		t.Fatalf("RegisterAction: %v", err)
	}
	if err := d.DoAction("flush"); err != nil {
		t.Fatalf("DoAction: %v", err)
	}
	if !ran {
		t.Error("custom action did not run")
	}
}

func TestDoActionPropagatesError(t *testing.T) {
	d, _, _, _ := newTestDaemon(t)
	boom := errors.New("boom")
	if err := d.RegisterAction("explode", func() error { return boom }); err != nil {
		t.Fatalf("RegisterAction: %v", err)
	}
	if err := d.DoAction("explode"); !errors.Is(err, boom) {
		t.Errorf("DoAction error = %v, want %v", err, boom)
	}
}

func TestDoActionUnknown(t *testing.T) {
	d, _, _, _ := newTestDaemon(t)
	err := d.DoAction("no-such-action")
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error %v is not a ConfigError", err)
	}
	if want := `Invalid action "no-such-action"`; err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}
