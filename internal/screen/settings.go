package screen

import "fmt"

// Destination kinds reachable from the settings list.
const (
	DestinationScreen = "screen" // pushes another in-app screen
	DestinationWeb    = "web"    // opens a web page
)

// SettingsItem is one row of the settings list.
type SettingsItem struct {
	ID    string
	Title string
	// Kind is DestinationScreen or DestinationWeb; Target is the screen name or URL.
	Kind   string
	Target string
}

// Policy pages.
const (
	PrivacyPolicyURL = "https://poki-project.notion.site/bf9b73c51fc34d32991d88966283c0ce?pvs=4"
	ServiceTermsURL  = "https://poki-project.notion.site/edab5f4b388545cd91a63665fc3b64dc?pvs=4"
)

var settingsItems = []SettingsItem{
	{ID: "notices", Title: "Notices", Kind: DestinationScreen, Target: "notice_list"},
	{ID: "privacy", Title: "Privacy Policy", Kind: DestinationWeb, Target: PrivacyPolicyURL},
	{ID: "terms", Title: "Terms of Service", Kind: DestinationWeb, Target: ServiceTermsURL},
	{ID: "delete_account", Title: "Delete Account", Kind: DestinationScreen, Target: "account_deletion"},
}

// Settings is the static settings list.
type Settings struct{}

// Items returns the rows in display order.
func (Settings) Items() []SettingsItem {
	out := make([]SettingsItem, len(settingsItems))
	copy(out, settingsItems)
	return out
}

// Select returns the destination of the row with id.
func (Settings) Select(id string) (SettingsItem, error) {
	for _, item := range settingsItems {
		if item.ID == id {
			return item, nil
		}
	}
	return SettingsItem{}, fmt.Errorf("unknown settings item %q", id)
}
