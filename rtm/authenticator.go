package rtm

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
)

const roleSecretMethod = "role_secret"

// Requester sends one request PDU and waits for the reply with the same id.
type Requester interface {
	Request(ctx context.Context, pdu PDU) (PDU, error)
}

// Authenticator runs once after the transport connects and before any
// subscribe request is sent.
type Authenticator interface {
	Authenticate(ctx context.Context, requester Requester) error
}

// RoleSecretAuthenticator authenticates a role with its secret key using
// the handshake/authenticate exchange.
type RoleSecretAuthenticator struct {
	Role   string
	Secret string
}

// NewRoleSecretAuthenticator returns a RoleSecretAuthenticator.
func NewRoleSecretAuthenticator(role string, secret string) *RoleSecretAuthenticator {
	return &RoleSecretAuthenticator{Role: role, Secret: secret}
}

// Authenticate performs auth/handshake then auth/authenticate.
func (auth *RoleSecretAuthenticator) Authenticate(ctx context.Context, requester Requester) error {
	handshake, err := requester.Request(ctx, NewPDU(ActionHandshake, map[string]any{
		"method": roleSecretMethod,
		"data":   map[string]any{"role": auth.Role},
	}))
	if err != nil {
		return NewError(AuthenticationError, err)
	}
	if handshake.Action != ActionHandshakeOK {
		return authenticationFailure(handshake)
	}

	data, _ := handshake.Get("data").(map[string]any)
	nonce, _ := data["nonce"].(string)
	if nonce == "" {
		return NewError(AuthenticationError, "handshake reply has no nonce")
	}

	reply, err := requester.Request(ctx, NewPDU(ActionAuthenticate, map[string]any{
		"method":      roleSecretMethod,
		"credentials": map[string]any{"hash": RoleSecretHash(auth.Secret, nonce)},
	}))
	if err != nil {
		return NewError(AuthenticationError, err)
	}
	if reply.Action != ActionAuthenticateOK {
		return authenticationFailure(reply)
	}
	return nil
}

// RoleSecretHash returns base64(HMAC-MD5(secret, nonce)).
func RoleSecretHash(secret string, nonce string) string {
	mac := hmac.New(md5.New, []byte(secret))
	_, _ = mac.Write([]byte(nonce))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func authenticationFailure(reply PDU) error {
	body, ok := ParseBody(reply).(ErrorBody)
	if !ok {
		return NewError(AuthenticationError, "unexpected reply '"+reply.Action+"'")
	}
	return NewError(AuthenticationError, body.Error+": "+body.Reason)
}
