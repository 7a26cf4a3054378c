package event

import "regexp"

// botLogin matches the naming conventions bot accounts follow on GitHub:
// "-bot"/".bot"/"_bot" affixes, a leading "bot-", a bare "bot", or the
// explicit "[bot]" suffix GitHub Apps carry. Best-effort classification —
// an account named like a bot is flagged even if a human owns it.
var botLogin = regexp.MustCompile(`(?i)(-bot|[._]bot|bot[._]|^bot-|^bot$|\[bot\]$)`)

// IsBotLogin reports whether login looks like a bot account name.
func IsBotLogin(login string) bool {
	if login == "" {
		return false
	}
	return botLogin.MatchString(login)
}
