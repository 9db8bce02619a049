package subscriptions

import (
	"sort"

	"github.com/shopspring/decimal"

	"near-buybot/internal/types"
)

// Currency selects how an amount threshold is measured.
type Currency string

const (
	CurrencyToken Currency = "token"
	CurrencyUsd   Currency = "usd"
)

// MinAmount suppresses matching events below Value. Token-denominated
// thresholds compare raw token units, USD-denominated ones the converted
// value. A nil *MinAmount means no gate.
type MinAmount struct {
	Currency Currency        `json:"currency"`
	Value    decimal.Decimal `json:"value"`
}

type MediaKind string

const (
	MediaNone      MediaKind = "none"
	MediaPhoto     MediaKind = "photo"
	MediaAnimation MediaKind = "animation"
)

type Media struct {
	Kind   MediaKind `json:"kind"`
	FileID string    `json:"file_id,omitempty"`
}

// AttachmentRule maps an amount threshold to a media attachment. Rules are
// kept sorted ascending by threshold; selection falls through to the last
// rule whose threshold does not exceed the event magnitude.
type AttachmentRule struct {
	Threshold decimal.Decimal `json:"threshold"`
	Media     Media           `json:"media"`
}

// Component is one ordered block of a rendered notification.
type Component string

const (
	ComponentEmojis          Component = "emojis"
	ComponentTraderInfo      Component = "trader_info"
	ComponentAmount          Component = "amount"
	ComponentPrice           Component = "price"
	ComponentMarketCap       Component = "market_cap"
	ComponentContractAddress Component = "contract_address"
	ComponentWhaleAlert      Component = "whale_alert"
)

func DefaultComponents() []Component {
	return []Component{
		ComponentEmojis,
		ComponentTraderInfo,
		ComponentAmount,
		ComponentPrice,
		ComponentMarketCap,
		ComponentContractAddress,
	}
}

type Link struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// SubscribedToken is the filter and presentation configuration for one
// followed token in one chat.
type SubscribedToken struct {
	Buys     bool `json:"buys"`
	Sells    bool `json:"sells"`
	LpAdd    bool `json:"lp_add"`
	LpRemove bool `json:"lp_remove"`

	MinAmount *MinAmount `json:"min_amount,omitempty"`

	Attachments        []AttachmentRule `json:"attachments,omitempty"`
	AttachmentCurrency Currency         `json:"attachment_currency,omitempty"`

	Components []Component `json:"components"`
	Links      []Link      `json:"links,omitempty"`
	Buttons    []Link      `json:"buttons,omitempty"`
}

func DefaultSubscribedToken() SubscribedToken {
	return SubscribedToken{
		Buys:               true,
		Sells:              true,
		AttachmentCurrency: CurrencyToken,
		Components:         DefaultComponents(),
	}
}

// SelectAttachment returns the last rule whose threshold does not exceed
// magnitude, or false when no rule qualifies.
func (s *SubscribedToken) SelectAttachment(magnitude decimal.Decimal) (Media, bool) {
	selected := -1
	for i, rule := range s.Attachments {
		if rule.Threshold.LessThanOrEqual(magnitude) {
			selected = i
		} else {
			break
		}
	}
	if selected < 0 {
		return Media{}, false
	}
	return s.Attachments[selected].Media, true
}

func sortAttachments(rules []AttachmentRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Threshold.LessThan(rules[j].Threshold)
	})
}

// Subscriber is one chat's full configuration for one bot identity.
type Subscriber struct {
	Enabled bool                            `json:"enabled"`
	Tokens  map[types.Token]SubscribedToken `json:"tokens"`
}

func NewSubscriber() *Subscriber {
	return &Subscriber{
		Enabled: true,
		Tokens:  make(map[types.Token]SubscribedToken),
	}
}
