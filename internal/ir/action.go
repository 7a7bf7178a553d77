package ir

// ActionName identifies a protective action. The set is closed: every known
// name appears in KnownActions, and backends are expected to provide an
// executor for each. Names outside the set survive compilation so the
// dispatcher can report them as failures instead of rejecting a rule set.
type ActionName string

const (
	ActionEnableVPN       ActionName = "enableVpn"
	ActionDisableVPN      ActionName = "disableVpn"
	ActionLockClipboard   ActionName = "lockClipboard"
	ActionUnlockClipboard ActionName = "unlockClipboard"
	ActionRemountHomeRO   ActionName = "remountHomeRo"
	ActionRemountHomeRW   ActionName = "remountHomeRw"
	ActionNotifyUser      ActionName = "notifyUser"
	ActionHideWindows     ActionName = "hideWindows"
)

// KnownActions lists every action in declaration order.
var KnownActions = []ActionName{
	ActionEnableVPN,
	ActionDisableVPN,
	ActionLockClipboard,
	ActionUnlockClipboard,
	ActionRemountHomeRO,
	ActionRemountHomeRW,
	ActionNotifyUser,
	ActionHideWindows,
}

// Known reports whether a is part of the closed action set.
func (a ActionName) Known() bool {
	for _, k := range KnownActions {
		if k == a {
			return true
		}
	}
	return false
}

func (a ActionName) String() string {
	return string(a)
}
