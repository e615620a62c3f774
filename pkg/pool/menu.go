package pool

// State is the pool binding state driving the toolbar.
type State int

const (
	NoPoolBound State = iota
	PoolBound
)

// StateOf derives the state from the bound pool name.
func StateOf(pool string) State {
	if pool == "" {
		return NoPoolBound
	}
	return PoolBound
}

// Action is a toolbar value.
type Action string

const (
	ActionSelectPool       Action = "select_pool"
	ActionAdvancedSettings Action = "advanced_settings"
	ActionUnsetPool        Action = "unset_pool"
	ActionLaunch           Action = "launch"
)

// Option is one entry of the settings menu.
type Option struct {
	Label string `json:"label"`
	Value Action `json:"value"`
}

// Menu is the rendered toolbar: the settings menu plus the launch button.
type Menu struct {
	Settings []Option `json:"settings"`
	Launch   Option   `json:"launch"`
}

// Has reports whether the settings menu offers action.
func (m Menu) Has(action Action) bool {
	for _, o := range m.Settings {
		if o.Value == action {
			return true
		}
	}
	return m.Launch.Value == action
}

// MenuFor builds the toolbar for state.
func MenuFor(state State) Menu {
	options := []Option{
		{Label: "Choose Pool", Value: ActionSelectPool},
		{Label: "Advanced Settings", Value: ActionAdvancedSettings},
	}
	if state == PoolBound {
		options = append(options, Option{Label: "Unset Pool", Value: ActionUnsetPool})
	}
	return Menu{
		Settings: options,
		Launch:   Option{Label: "Launch Docker Image", Value: ActionLaunch},
	}
}
