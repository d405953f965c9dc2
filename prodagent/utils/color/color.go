// prodagent/utils/color/color.go
package color

import (
	"github.com/fatih/color"
)

var (
	promptColor     = color.New(color.FgCyan, color.Bold)
	infoColor       = color.New(color.FgGreen)
	warningColor    = color.New(color.FgYellow, color.Bold)
	errorColor      = color.New(color.FgRed, color.Bold)
	replyColor      = color.New(color.FgHiYellow)
	suggestionColor = color.New(color.FgHiBlack)
	modeColor       = color.New(color.FgMagenta, color.Bold)
)

func ColorPrompt(s string) string {
	return promptColor.Sprint(s)
}

func ColorInfo(s string) string {
	return infoColor.Sprint(s)
}

func ColorWarning(s string) string {
	return warningColor.Sprint(s)
}

func ColorError(s string) string {
	return errorColor.Sprint(s)
}

// ColorReply colors assistant text; streamed chunks are colored one by one.
func ColorReply(s string) string {
	return replyColor.Sprint(s)
}

func ColorSuggestion(s string) string {
	return suggestionColor.Sprint(s)
}

// ColorMode renders a mode badge such as [POST_PURCHASE].
func ColorMode(mode string) string {
	return modeColor.Sprint("[" + mode + "]")
}

// Disable turns colors off, e.g. for --no-color or piped output.
func Disable() {
	color.NoColor = true
}
