package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeOperator marks tokens that grant read access to the operator API
const TokenTypeOperator = "operator"

// TokenClaims are the claims carried by operator API bearer tokens
type TokenClaims struct {
	Type     string `json:"type"`
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}
