package schema

import "strings"

// ParseAction validates an action name received from an editor.
func ParseAction(value string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(value))) {
	case ActionEdit:
		return ActionEdit, nil
	case ActionSelection:
		return ActionSelection, nil
	case ActionFocus:
		return ActionFocus, nil
	case ActionActivate:
		return ActionActivate, nil
	case ActionSkip:
		return ActionSkip, nil
	default:
		return "", ErrInvalidAction
	}
}

// NormalizeSource returns the editor source name, defaulting to DefaultSource.
func NormalizeSource(source string) string {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return DefaultSource
	}
	return strings.ToLower(trimmed)
}
