package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/deepily/cosa/pkg/events"
	"github.com/deepily/cosa/pkg/services"
)

// Ensure HMACVerifier implements the fabric's verifier contract.
var _ events.TokenVerifier = (*HMACVerifier)(nil)

// HMACVerifier verifies self-contained signed tokens of the form
// base64url(user_id|email|role) + "." + hex(hmac-sha256(payload)).
// Role is "admin" or "user".
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a verifier over a shared secret.
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// Mint issues a token for the given identity. Used by tooling and tests;
// production deployments typically mint tokens in the identity provider.
func (v *HMACVerifier) Mint(userID, email string, isAdmin bool) string {
	role := "user"
	if isAdmin {
		role = "admin"
	}
	payload := strings.Join([]string{userID, email, role}, "|")
	encoded := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return encoded + "." + v.sign(encoded)
}

// Verify implements events.TokenVerifier.
func (v *HMACVerifier) Verify(token string) (string, bool, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok || !hmac.Equal([]byte(v.sign(encoded)), []byte(sig)) {
		return "", false, services.ErrUnauthorized
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", false, services.ErrUnauthorized
	}
	parts := strings.Split(string(payload), "|")
	if len(parts) != 3 || parts[0] == "" {
		return "", false, services.ErrUnauthorized
	}
	return parts[0], parts[2] == "admin", nil
}

// VerifyFull is Verify plus the email claim, used by the push handler.
func (v *HMACVerifier) VerifyFull(token string) (userID, email string, isAdmin bool, err error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok || !hmac.Equal([]byte(v.sign(encoded)), []byte(sig)) {
		return "", "", false, services.ErrUnauthorized
	}
	payload, decodeErr := base64.RawURLEncoding.DecodeString(encoded)
	if decodeErr != nil {
		return "", "", false, services.ErrUnauthorized
	}
	parts := strings.Split(string(payload), "|")
	if len(parts) != 3 || parts[0] == "" {
		return "", "", false, services.ErrUnauthorized
	}
	return parts[0], parts[1], parts[2] == "admin", nil
}

func (v *HMACVerifier) sign(encoded string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	UserID  string
	Email   string
	IsAdmin bool
}

const identityKey = "identity"

// authRequired extracts and verifies the bearer token, attaching the caller
// identity to the gin context. Missing or invalid tokens get a 401.
func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			abortWithError(c, services.ErrUnauthorized)
			return
		}
		userID, email, isAdmin, err := s.verifier.VerifyFull(token)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(identityKey, Identity{UserID: userID, Email: email, IsAdmin: isAdmin})
		c.Next()
	}
}

func identity(c *gin.Context) Identity {
	id, _ := c.Get(identityKey)
	ident, _ := id.(Identity)
	return ident
}
