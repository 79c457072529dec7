package common

import (
	"fmt"

	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner
func PrintBanner(version string, config *Config) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorCyan).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(60)

	b.PrintTopLine()
	b.PrintCenteredText("CatchAll")
	b.PrintCenteredText("Deep search job orchestration")
	b.PrintSeparatorLine()
	b.PrintKeyValue("Version", version, 12)
	if config != nil {
		b.PrintKeyValue("Address", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port), 12)
		b.PrintKeyValue("Monitors", config.Monitor.Mode, 12)
		b.PrintKeyValue("Planner", config.Search.Planner, 12)
	}
	b.PrintBottomLine()
}
