package daemonocle

// ActionFunc is the body of a named action invokable via DoAction or a CLI
// subcommand.
type ActionFunc func() error

type action struct {
	name string
	fn   ActionFunc
}

func (d *Daemon) registerBuiltins() {
	d.actions = []action{
		{"start", func() error { return d.Start(StartOptions{}) }},
		{"stop", func() error { return d.Stop(StopOptions{}) }},
		{"restart", func() error { return d.Restart(RestartOptions{}) }},
		{"status", func() error { return d.Status(StatusOptions{}) }},
	}
}

// RegisterAction adds a custom action. Names must be unique; the built-in
// action names cannot be reused.
func (d *Daemon) RegisterAction(name string, fn ActionFunc) error {
	if name == "" {
		return &ConfigError{Message: "Action name must not be empty"}
	}
	if fn == nil {
		return configErrorf("Action %q must have a non-nil function", name)
	}
	for _, a := range d.actions {
		if a.name == name {
			return configErrorf("Action %q is already registered", name)
		}
	}
	d.actions = append(d.actions, action{name, fn})
	return nil
}

// Actions returns all action names, built-ins first, then custom actions
// in registration order.
func (d *Daemon) Actions() []string {
	names := make([]string, len(d.actions))
	for i, a := range d.actions {
		names[i] = a.name
	}
	return names
}

// DoAction runs the named action.
func (d *Daemon) DoAction(name string) error {
	for _, a := range d.actions {
		if a.name == name {
			return a.fn()
		}
	}
	return configErrorf("Invalid action %q", name)
}
