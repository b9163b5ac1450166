// Package plan defines subscription tiers and the limits they impose on
// forwarding configuration and scheduling.
package plan

import (
	"fmt"
	"time"
)

// Tier is a subscription plan level.
type Tier string

const (
	Free  Tier = "free"
	Pro   Tier = "pro"
	Elite Tier = "elite"
)

// Known routes between platforms, in source_to_destination form.
const (
	RouteTelegramToTelegram = "telegram_to_telegram"
	RouteTelegramToDiscord  = "telegram_to_discord"
	RouteDiscordToTelegram  = "discord_to_telegram"
	RouteDiscordToDiscord   = "discord_to_discord"
	RouteSlackToTelegram    = "slack_to_telegram"
	RouteTelegramToSlack    = "telegram_to_slack"
)

// Limits describes what a tier may configure and how its work is
// scheduled. MaxPairs uses 999 as the "unlimited" sentinel, matching
// what billing advertises.
type Limits struct {
	MaxPairs       int
	MaxAccounts    map[string]int // per platform
	MinDelay       time.Duration
	AllowedRoutes  []string
	CopyMode       bool
	MessagesPerDay int
	Lane           string // default dispatch lane for user-initiated work
}

var limitsByTier = map[Tier]Limits{
	Free: {
		MaxPairs:       1,
		MaxAccounts:    map[string]int{"telegram": 1, "discord": 0, "slack": 0},
		MinDelay:       10 * time.Second,
		AllowedRoutes:  []string{RouteTelegramToTelegram},
		CopyMode:       false,
		MessagesPerDay: 500,
		Lane:           "low",
	},
	Pro: {
		MaxPairs:    15,
		MaxAccounts: map[string]int{"telegram": 2, "discord": 1, "slack": 1},
		MinDelay:    2 * time.Second,
		AllowedRoutes: []string{
			RouteTelegramToTelegram,
			RouteTelegramToDiscord,
			RouteDiscordToTelegram,
		},
		CopyMode:       false,
		MessagesPerDay: 5000,
		Lane:           "medium",
	},
	Elite: {
		MaxPairs:    999,
		MaxAccounts: map[string]int{"telegram": 3, "discord": 3, "slack": 3},
		MinDelay:    0,
		AllowedRoutes: []string{
			RouteTelegramToTelegram,
			RouteTelegramToDiscord,
			RouteDiscordToTelegram,
			RouteDiscordToDiscord,
			RouteSlackToTelegram,
			RouteTelegramToSlack,
		},
		CopyMode:       true,
		MessagesPerDay: 50000,
		Lane:           "high",
	},
}

// ParseTier converts a stored plan string to a Tier, defaulting unknown
// values to Free rather than failing: a corrupt plan column must never
// grant extra capacity.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case Pro:
		return Pro
	case Elite:
		return Elite
	default:
		return Free
	}
}

// LimitsFor returns the limits for a tier.
func LimitsFor(t Tier) Limits {
	if l, ok := limitsByTier[t]; ok {
		return l
	}
	return limitsByTier[Free]
}

// RouteAllowed reports whether a tier may configure the given
// source→destination route.
func (l Limits) RouteAllowed(route string) bool {
	for _, r := range l.AllowedRoutes {
		if r == route {
			return true
		}
	}
	return false
}

// Expired reports whether a plan expiry timestamp has passed. A nil
// expiry never expires (free plans have none).
func Expired(expiresAt *time.Time, now time.Time) bool {
	return expiresAt != nil && now.After(*expiresAt)
}

// UpgradeHint returns the message shown when a tier hits its pair limit.
func UpgradeHint(t Tier) string {
	switch t {
	case Free:
		return "Free plan is limited to 1 forwarding pair. Upgrade to Pro for 15 pairs or Elite for unlimited pairs."
	case Pro:
		return "Pro plan is limited to 15 forwarding pairs. Upgrade to Elite for unlimited pairs."
	default:
		return fmt.Sprintf("Maximum forwarding pairs limit reached for %s plan.", t)
	}
}
