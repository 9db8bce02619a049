package types

import (
	"fmt"
	"strconv"
	"strings"
)

// NativeToken is the canonical id for the chain's native token. Events refer
// to it through the wrapped contract, subscriptions through this id.
const NativeToken = "near"

// PreLaunchContract hosts pre-launch auctions. Pre-launch keys serialize as
// "<contract>:<auction id>" so they stay disjoint from account ids.
const PreLaunchContract = "meme-cooking.near"

type tokenKind uint8

const (
	kindFT tokenKind = iota
	kindPreLaunch
)

// Token identifies a tradable entity: either a fungible-token contract
// account or a numeric pre-launch auction. The zero value is the empty FT
// token and is not valid.
type Token struct {
	kind    tokenKind
	account string
	auction uint64
}

func FT(account string) Token {
	return Token{kind: kindFT, account: account}
}

func PreLaunch(auctionID uint64) Token {
	return Token{kind: kindPreLaunch, auction: auctionID}
}

func (t Token) IsPreLaunch() bool {
	return t.kind == kindPreLaunch
}

// Account returns the FT contract account id, or false for pre-launch keys.
func (t Token) Account() (string, bool) {
	if t.kind != kindFT {
		return "", false
	}
	return t.account, true
}

// AuctionID returns the pre-launch auction id, or false for FT keys.
func (t Token) AuctionID() (uint64, bool) {
	if t.kind != kindPreLaunch {
		return 0, false
	}
	return t.auction, true
}

func (t Token) String() string {
	if t.kind == kindPreLaunch {
		return fmt.Sprintf("%s:%d", PreLaunchContract, t.auction)
	}
	return t.account
}

func ParseToken(s string) (Token, error) {
	if s == "" {
		return Token{}, fmt.Errorf("empty token id")
	}
	if rest, ok := strings.CutPrefix(s, PreLaunchContract+":"); ok {
		id, err := strconv.ParseUint(rest, 10, 64)
		if err != nil {
			return Token{}, fmt.Errorf("invalid pre-launch auction id %q: %w", rest, err)
		}
		return PreLaunch(id), nil
	}
	return FT(s), nil
}

// MarshalText lets Token act as a JSON map key in persisted subscriber records.
func (t Token) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Token) UnmarshalText(data []byte) error {
	parsed, err := ParseToken(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// NormalizeTokenID rewrites wrapped-native contract ids to NativeToken before
// index lookups, so a subscription to "near" sees wrap.near swaps.
func NormalizeTokenID(id string) string {
	switch id {
	case "wrap.near", "wrap.testnet":
		return NativeToken
	default:
		return id
	}
}
