package domain

import "fmt"

// TokenType identifies a custodied asset.
type TokenType string

const (
	TokenUSDC TokenType = "USDC"
	TokenEURC TokenType = "EURC"
	TokenSOL  TokenType = "SOL"
)

// SupportedTokens lists every token the ledger can hold.
var SupportedTokens = []TokenType{TokenUSDC, TokenEURC, TokenSOL}

// IsValid reports whether t is a supported token.
func (t TokenType) IsValid() bool {
	switch t {
	case TokenUSDC, TokenEURC, TokenSOL:
		return true
	}
	return false
}

// ParseTokenType converts a raw string to a TokenType.
func ParseTokenType(s string) (TokenType, error) {
	t := TokenType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("unsupported token type %q", s)
	}
	return t, nil
}
