package kafka

import (
	"context"
	"crypto/tls"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientID identifies gocart connections to the broker.
const ClientID = "gocart"

// Auth describes how to authenticate to the brokers. With Plaintext set no TLS or SASL is
// used, which is only suitable for a local broker.
type Auth struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Plaintext    bool
}

// OAuthBearer implements the SASL OAUTHBEARER mechanism (RFC 7628) with tokens obtained
// through the OAuth2 client credentials flow.
type OAuthBearer struct {
	tokens oauth2.TokenSource
}

// NewOAuthBearer creates a mechanism that fetches tokens from tokenURL. Tokens are cached
// until they expire.
func NewOAuthBearer(clientID, clientSecret, tokenURL string) *OAuthBearer {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	return &OAuthBearer{tokens: cfg.TokenSource(context.Background())}
}

// Name implements sasl.Mechanism.
func (o *OAuthBearer) Name() string {
	return "OAUTHBEARER"
}

// Start implements sasl.Mechanism. The initial response carries the bearer token.
func (o *OAuthBearer) Start(ctx context.Context) (sasl.StateMachine, []byte, error) {
	tok, err := o.tokens.Token()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to obtain OAuth token")
	}
	ir := []byte("n,,\x01auth=Bearer " + tok.AccessToken + "\x01\x01")
	return oauthSession{}, ir, nil
}

type oauthSession struct{}

// Next completes the exchange. A non-empty challenge is the server's error report.
func (oauthSession) Next(ctx context.Context, challenge []byte) (bool, []byte, error) {
	if len(challenge) > 0 {
		return true, nil, errors.Newf("OAUTHBEARER authentication failed: %s", challenge)
	}
	return true, nil, nil
}

func securityFor(auth Auth) (sasl.Mechanism, *tls.Config, error) {
	if auth.Plaintext {
		return nil, nil, nil
	}
	if auth.ClientID == "" || auth.ClientSecret == "" || auth.TokenURL == "" {
		return nil, nil, errors.New("client credentials and token URL are required for SASL_SSL")
	}
	return NewOAuthBearer(auth.ClientID, auth.ClientSecret, auth.TokenURL), &tls.Config{MinVersion: tls.VersionTLS12}, nil
}

// NewDialer returns the dialer readers connect with.
func NewDialer(auth Auth) (*kafka.Dialer, error) {
	mechanism, tlsConfig, err := securityFor(auth)
	if err != nil {
		return nil, err
	}
	return &kafka.Dialer{
		ClientID:      ClientID,
		Timeout:       DialTimeout,
		DualStack:     true,
		TLS:           tlsConfig,
		SASLMechanism: mechanism,
	}, nil
}

// NewTransport returns the transport used by writers and admin clients.
func NewTransport(auth Auth) (*kafka.Transport, error) {
	mechanism, tlsConfig, err := securityFor(auth)
	if err != nil {
		return nil, err
	}
	return &kafka.Transport{
		ClientID:    ClientID,
		DialTimeout: DialTimeout,
		TLS:         tlsConfig,
		SASL:        mechanism,
	}, nil
}
